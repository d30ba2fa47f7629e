package dashboard

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"qms/walkin-service/internal/models"
	"qms/walkin-service/internal/store"

	"github.com/xuri/excelize/v2"
)

var exportColumns = []string{
	"Queue number", "Customer", "Phone", "Service", "Priority", "Status",
	"Created", "Called", "Started", "Completed", "Waiting (min)", "Service (min)", "Notes",
}

// ExportDesk renders one day of a desk's tickets as an xlsx workbook. An empty
// day means today.
func (s *Service) ExportDesk(ctx context.Context, actor models.Actor, deskID, day string) ([]byte, error) {
	day = strings.TrimSpace(day)
	if day == "" {
		day = s.engine.Today()
	}
	if _, err := time.Parse(time.DateOnly, day); err != nil {
		return nil, fmt.Errorf("%w: day must be YYYY-MM-DD", store.ErrInvalidInput)
	}

	desk, err := s.engine.AuthorizedDesk(ctx, actor, deskID)
	if err != nil {
		return nil, err
	}
	tickets, err := s.store.ListTickets(ctx, store.TicketFilter{
		DeskID:     desk.DeskID,
		ServiceDay: day,
		Order:      store.OrderCreated,
	})
	if err != nil {
		return nil, err
	}

	data, err := s.renderWorkbook(desk, day, tickets)
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("desk_id", desk.DeskID).
		Str("service_day", day).
		Int("tickets", len(tickets)).
		Str("actor", actor.Username).
		Msg("desk exported")
	return data, nil
}

func (s *Service) renderWorkbook(desk models.Desk, day string, tickets []models.Ticket) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := sheetName(desk.DeskNumber + " " + day)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	for i, column := range exportColumns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, column); err != nil {
			return nil, err
		}
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		end, _ := excelize.CoordinatesToCellName(len(exportColumns), 1)
		_ = f.SetCellStyle(sheet, "A1", end, style)
	}

	now := s.engine.Now()
	loc := s.engine.Location()
	for i, ticket := range tickets {
		row := []interface{}{
			ticket.QueueNumber,
			ticket.CustomerName,
			ticket.CustomerPhone,
			ticket.ServiceType,
			ticket.IsPriority,
			ticket.Status,
			formatTime(&ticket.CreatedAt, loc),
			formatTime(ticket.CalledAt, loc),
			formatTime(ticket.StartedAt, loc),
			formatTime(ticket.CompletedAt, loc),
			ticket.WaitingMinutes(now),
			ticket.ServiceMinutes(),
			ticket.Notes,
		}
		for j, value := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// sheetName trims to the 31 characters Excel allows and drops characters it rejects.
func sheetName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return -1
		}
		return r
	}, strings.TrimSpace(name))
	runes := []rune(name)
	if len(runes) > 31 {
		runes = runes[:31]
	}
	if len(runes) == 0 {
		return "Tickets"
	}
	return string(runes)
}

func formatTime(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.In(loc).Format("2006-01-02 15:04")
}
