package inventory

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"vetclinic-backend/internal/audit"
	"vetclinic-backend/internal/auth"
	"vetclinic-backend/internal/logger"
	"vetclinic-backend/internal/models"
	"vetclinic-backend/internal/stock"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Receipt sheets list one delivered lot per row:
// product_id | batch_id | lot_number | expiry_date | quantity | cost_per_unit
const receiptColumns = 6

var movementHeadings = []any{
	"Date", "Product ID", "Type", "Quantity", "Previous", "New", "Batch ID", "Reference", "Actor", "Note",
}

type receiptRow struct {
	Line      int
	ProductID uint
	Receipt   stock.Receipt
}

type RowError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

type ImportReceiptsResponse struct {
	Received int        `json:"received"`
	Failed   int        `json:"failed"`
	Errors   []RowError `json:"errors"`
}

func readSheet(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	return f.GetRows(sheets[0])
}

func cell(row []string, i int) string {
	if i < len(row) {
		return strings.TrimSpace(row[i])
	}
	return ""
}

// parseReceiptRows turns sheet rows into receipts. A first row whose product
// column is not a number is treated as the header. Empty rows are skipped.
func parseReceiptRows(rows [][]string) ([]receiptRow, []RowError) {
	var (
		out  []receiptRow
		errs []RowError
	)
	for i, row := range rows {
		line := i + 1
		if len(strings.Join(row, "")) == 0 {
			continue
		}
		pid, err := strconv.ParseUint(cell(row, 0), 10, 64)
		if err != nil {
			if i == 0 {
				continue
			}
			errs = append(errs, RowError{Line: line, Message: "product_id must be a number"})
			continue
		}
		if len(row) < receiptColumns-1 {
			errs = append(errs, RowError{Line: line, Message: "row has missing columns"})
			continue
		}

		code := cell(row, 1)
		if code == "" {
			errs = append(errs, RowError{Line: line, Message: "batch_id is required"})
			continue
		}
		expiry, err := time.Parse(dateLayout, cell(row, 3))
		if err != nil {
			errs = append(errs, RowError{Line: line, Message: "expiry_date must be YYYY-MM-DD"})
			continue
		}
		qty, err := strconv.ParseInt(cell(row, 4), 10, 64)
		if err != nil || qty <= 0 {
			errs = append(errs, RowError{Line: line, Message: "quantity must be a positive whole number"})
			continue
		}
		cost := decimal.Zero
		if raw := cell(row, 5); raw != "" {
			cost, err = decimal.NewFromString(raw)
			if err != nil || cost.IsNegative() {
				errs = append(errs, RowError{Line: line, Message: "cost_per_unit must be a non-negative number"})
				continue
			}
		}

		out = append(out, receiptRow{
			Line:      line,
			ProductID: uint(pid),
			Receipt: stock.Receipt{
				BatchCode:   code,
				LotNumber:   cell(row, 2),
				ExpiryDate:  expiry,
				Quantity:    qty,
				CostPerUnit: cost,
			},
		})
	}
	return out, errs
}

// POST /api/stock/receipts/import takes an .xlsx upload in the "file" field.
// Every valid row is booked on its own; failed rows are reported by line.
func ImportReceiptsHandler(svc *stock.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fh, err := c.FormFile("file")
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "file is required")
		}
		if !strings.HasSuffix(strings.ToLower(fh.Filename), ".xlsx") {
			return fiber.NewError(fiber.StatusBadRequest, "Only .xlsx files are accepted")
		}
		file, err := fh.Open()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "file could not be opened")
		}
		defer file.Close()

		rows, err := readSheet(file)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Spreadsheet could not be read")
		}
		receipts, rowErrs := parseReceiptRows(rows)
		res := ImportReceiptsResponse{Errors: rowErrs}

		actor := auth.Actor(c)
		for _, r := range receipts {
			p, err := svc.Product(c.UserContext(), r.ProductID)
			if err != nil || !auth.CanAccessClinic(c, p.ClinicID) {
				res.Errors = append(res.Errors, RowError{Line: r.Line, Message: fmt.Sprintf("product %d not found", r.ProductID)})
				continue
			}
			batch, _, err := svc.ReceiveBatch(c.UserContext(), p.ID, r.Receipt, actor)
			if err != nil {
				if !errors.Is(err, stock.ErrInactiveProduct) {
					logger.FromFiber(c).WithError(err).WithField("line", r.Line).Error("receipt import row failed")
				}
				res.Errors = append(res.Errors, RowError{Line: r.Line, Message: err.Error()})
				continue
			}
			res.Received++
			audit.Record(c, p.ClinicID, audit.LogOptions{
				EntityType:  "batch",
				EntityID:    batch.ID,
				Action:      models.AuditActionReceive,
				Description: fmt.Sprintf("batch %s imported for %s (row %d)", batch.BatchCode, p.Name, r.Line),
			})
		}

		res.Failed = len(res.Errors)
		if res.Errors == nil {
			res.Errors = []RowError{}
		}
		status := fiber.StatusOK
		if res.Received == 0 && res.Failed > 0 {
			status = fiber.StatusUnprocessableEntity
		}
		return c.Status(status).JSON(res)
	}
}

func writeMovementsSheet(movements []models.StockMovement) (*excelize.File, error) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	if err := f.SetSheetRow(sheet, "A1", &movementHeadings); err != nil {
		return nil, err
	}
	for i, m := range movements {
		batch := ""
		if m.BatchID != nil {
			batch = strconv.FormatUint(uint64(*m.BatchID), 10)
		}
		row := []any{
			m.MovementDate.Format("2006-01-02 15:04:05"),
			m.ProductID,
			string(m.MovementType),
			m.Quantity,
			m.PreviousStock,
			m.NewStock,
			batch,
			fmt.Sprintf("%s #%d", m.ReferenceType, m.ReferenceID),
			m.Actor,
			m.Note,
		}
		axis, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, axis, &row); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// GET /api/stock/movements/export accepts the same filters as the list
// endpoint and returns them as an .xlsx download.
func ExportMovementsHandler(svc *stock.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		f, err := movementFilter(c, 5000)
		if err != nil {
			return err
		}
		movements, err := svc.Movements(c.UserContext(), f)
		if err != nil {
			return stockHTTPError(c, "export movements", err)
		}

		book, err := writeMovementsSheet(movements)
		if err != nil {
			return stockHTTPError(c, "export movements", err)
		}
		defer book.Close()

		c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Set(fiber.HeaderContentDisposition, `attachment; filename="stock-movements.xlsx"`)
		return book.Write(c.Response().BodyWriter())
	}
}
