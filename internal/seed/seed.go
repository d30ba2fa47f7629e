// Package seed loads locations, desks and accounts from a YAML file.
// Applying the same file twice creates nothing new.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"qms/walkin-service/internal/auth"
	"qms/walkin-service/internal/models"
	"qms/walkin-service/internal/store"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type File struct {
	Locations   []Location `yaml:"locations"`
	SuperAdmins []User     `yaml:"superadmins"`
}

type Location struct {
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	Province string `yaml:"province"`
	Phone    string `yaml:"phone"`
	Active   *bool  `yaml:"active"`
	Desks    []Desk `yaml:"desks"`
	Users    []User `yaml:"users"`
}

type Desk struct {
	Number      string `yaml:"number"`
	Name        string `yaml:"name"`
	ServiceType string `yaml:"service_type"`
	Active      *bool  `yaml:"active"`
}

type User struct {
	Username string `yaml:"username"`
	FullName string `yaml:"full_name"`
	Phone    string `yaml:"phone"`
	Role     string `yaml:"role"`
	Password string `yaml:"password"`
	Active   *bool  `yaml:"active"`
}

type Result struct {
	Locations int
	Desks     int
	Users     int
}

func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(data)
}

// Parse expands ${VAR} references before decoding.
func Parse(data []byte) (File, error) {
	data = []byte(os.ExpandEnv(string(data)))
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return File{}, fmt.Errorf("parse seed file: %w", err)
	}
	if err := file.Validate(); err != nil {
		return File{}, err
	}
	return file, nil
}

func (f File) Validate() error {
	for i, location := range f.Locations {
		if strings.TrimSpace(location.Name) == "" {
			return fmt.Errorf("%w: locations[%d].name is required", store.ErrInvalidInput, i)
		}
		for j, desk := range location.Desks {
			if strings.TrimSpace(desk.Number) == "" || strings.TrimSpace(desk.Name) == "" {
				return fmt.Errorf("%w: %s desks[%d] needs number and name", store.ErrInvalidInput, location.Name, j)
			}
		}
		for _, user := range location.Users {
			if err := user.validate(); err != nil {
				return err
			}
			if user.Role == models.RoleSuperAdmin {
				return fmt.Errorf("%w: superadmin %s must be listed under superadmins", store.ErrInvalidInput, user.Username)
			}
		}
	}
	for _, user := range f.SuperAdmins {
		if err := user.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (u User) validate() error {
	if strings.TrimSpace(u.Username) == "" || u.Password == "" {
		return fmt.Errorf("%w: users need username and password", store.ErrInvalidInput)
	}
	if u.Role != "" && !models.ValidRole(u.Role) {
		return fmt.Errorf("%w: user %s has unknown role %q", store.ErrInvalidInput, u.Username, u.Role)
	}
	return nil
}

type Seeder struct {
	store store.DirectoryStore
	hash  func(string) (string, error)
	log   zerolog.Logger
}

func NewSeeder(st store.DirectoryStore, logger zerolog.Logger) *Seeder {
	return &Seeder{store: st, hash: auth.HashPassword, log: logger}
}

// Apply creates whatever in the file does not exist yet. Locations match by
// name, desks by number within their location, users by username.
func (s *Seeder) Apply(ctx context.Context, file File) (Result, error) {
	var result Result

	existing, err := s.store.ListLocations(ctx, false)
	if err != nil {
		return result, err
	}
	byName := make(map[string]models.Location, len(existing))
	for _, location := range existing {
		byName[location.Name] = location
	}

	for _, entry := range file.Locations {
		name := strings.TrimSpace(entry.Name)
		location, ok := byName[name]
		if !ok {
			location, err = s.store.CreateLocation(ctx, store.CreateLocationInput{
				Name:     name,
				Address:  entry.Address,
				Province: entry.Province,
				Phone:    entry.Phone,
				Active:   enabled(entry.Active),
			})
			if err != nil {
				return result, fmt.Errorf("create location %s: %w", name, err)
			}
			byName[name] = location
			result.Locations++
			s.log.Info().Str("location", name).Msg("location created")
		}

		created, err := s.applyDesks(ctx, location, entry.Desks)
		result.Desks += created
		if err != nil {
			return result, err
		}

		for _, user := range entry.Users {
			locationID := location.LocationID
			created, err := s.applyUser(ctx, user, &locationID)
			if err != nil {
				return result, err
			}
			if created {
				result.Users++
			}
		}
	}

	for _, user := range file.SuperAdmins {
		user.Role = models.RoleSuperAdmin
		created, err := s.applyUser(ctx, user, nil)
		if err != nil {
			return result, err
		}
		if created {
			result.Users++
		}
	}
	return result, nil
}

func (s *Seeder) applyDesks(ctx context.Context, location models.Location, desks []Desk) (int, error) {
	current, err := s.store.ListDesks(ctx, location.LocationID)
	if err != nil {
		return 0, err
	}
	numbers := make(map[string]bool, len(current))
	for _, desk := range current {
		numbers[desk.DeskNumber] = true
	}

	created := 0
	for _, entry := range desks {
		number := strings.TrimSpace(entry.Number)
		if numbers[number] {
			continue
		}
		_, err := s.store.CreateDesk(ctx, store.CreateDeskInput{
			LocationID:  location.LocationID,
			DeskNumber:  number,
			DeskName:    strings.TrimSpace(entry.Name),
			ServiceType: strings.TrimSpace(entry.ServiceType),
			Active:      enabled(entry.Active),
		})
		if err != nil {
			return created, fmt.Errorf("create desk %s/%s: %w", location.Name, number, err)
		}
		numbers[number] = true
		created++
		s.log.Info().Str("location", location.Name).Str("desk", number).Msg("desk created")
	}
	return created, nil
}

func (s *Seeder) applyUser(ctx context.Context, entry User, locationID *string) (bool, error) {
	username := strings.TrimSpace(entry.Username)
	_, err := s.store.GetUserByUsername(ctx, username)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrUserNotFound) {
		return false, err
	}

	role := entry.Role
	if role == "" {
		role = models.RoleStaff
	}
	hash, err := s.hash(entry.Password)
	if err != nil {
		return false, err
	}
	if _, err := s.store.CreateUser(ctx, store.CreateUserInput{
		Username:     username,
		FullName:     entry.FullName,
		Phone:        entry.Phone,
		Role:         role,
		LocationID:   locationID,
		Active:       enabled(entry.Active),
		PasswordHash: hash,
	}); err != nil {
		return false, fmt.Errorf("create user %s: %w", username, err)
	}
	s.log.Info().Str("username", username).Str("role", role).Msg("user created")
	return true, nil
}

func enabled(flag *bool) bool {
	return flag == nil || *flag
}
