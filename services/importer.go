package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"html"
	"io"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/cppla/checkin/store"
)

var (
	// ErrUnsupportedFormat is returned for files that are neither .csv nor .tsv.
	ErrUnsupportedFormat = errors.New("unsupported file format, upload a CSV or TSV file")
	// ErrNoRows is returned when a file has a header but no usable data row.
	ErrNoRows = errors.New("no valid data rows found in the file")

	columnNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	datetimePattern   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`)
	cellPolicy        = bluemonday.StrictPolicy()
)

// HeaderError lists header names that are not valid column identifiers.
type HeaderError struct {
	Invalid []string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("invalid header names: %s", strings.Join(e.Invalid, ", "))
}

// ColumnNameValidator accepts letters, digits, '-' and '_' only.
func ColumnNameValidator(fl validator.FieldLevel) bool {
	return columnNamePattern.MatchString(fl.Field().String())
}

// NewImportValidator returns a validator with the "colname" rule registered.
func NewImportValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("colname", ColumnNameValidator)
	return v
}

// DelimiterFor picks the field separator from the uploaded file name.
func DelimiterFor(filename string) (rune, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return ',', nil
	case ".tsv":
		return '\t', nil
	default:
		return 0, ErrUnsupportedFormat
	}
}

// ParseDelimited turns a delimited file into loosely typed rows keyed by header.
// Rows with fewer fields than the header are skipped, extra fields are ignored.
func ParseDelimited(r io.Reader, delim rune, validate *validator.Validate) ([]map[string]any, error) {
	reader := csv.NewReader(r)
	reader.Comma = delim
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, err
	}

	var invalid []string
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
		if err := validate.Var(header[i], "required,colname"); err != nil {
			invalid = append(invalid, header[i])
		}
	}
	if len(invalid) > 0 {
		return nil, &HeaderError{Invalid: invalid}
	}

	var rows []map[string]any
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if blank(record) || len(record) < len(header) {
			continue
		}
		row := make(map[string]any, len(header))
		for i, name := range header {
			row[name] = coerceCell(record[i])
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, ErrNoRows
	}
	return rows, nil
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// coerceCell maps a raw cell to nil, a datetime string, bool, number or sanitised string.
func coerceCell(raw string) any {
	v := strings.TrimSpace(raw)
	switch {
	case v == "" || strings.EqualFold(v, "null"):
		return nil
	case datetimePattern.MatchString(v):
		return v
	case strings.EqualFold(v, "true"):
		return true
	case strings.EqualFold(v, "false"):
		return false
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return html.UnescapeString(cellPolicy.Sanitize(v))
}

// Importer loads delimited files straight into the record table. Rows are not
// check-in events and never pass through Evaluate.
type Importer struct {
	rows     store.RowInserter
	validate *validator.Validate
	timeout  time.Duration
	logger   *zap.Logger
	onWrite  func()
}

// NewImporter creates an importer; logger and onWrite may be nil.
func NewImporter(rows store.RowInserter, timeout time.Duration, logger *zap.Logger, onWrite func()) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{
		rows:     rows,
		validate: NewImportValidator(),
		timeout:  timeout,
		logger:   logger,
		onWrite:  onWrite,
	}
}

// Import parses the file and inserts every row, returning the inserted row count.
func (im *Importer) Import(ctx context.Context, filename string, r io.Reader) (int, error) {
	delim, err := DelimiterFor(filename)
	if err != nil {
		return 0, &ServiceError{Kind: KindMalformedInput, Op: "import", Err: err}
	}
	rows, err := ParseDelimited(r, delim, im.validate)
	if err != nil {
		return 0, &ServiceError{Kind: KindMalformedInput, Op: "import", Err: err}
	}
	for _, row := range rows {
		if id, ok := row["id"]; !ok || id == nil {
			row["id"] = uuid.NewString()
		}
	}

	if im.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, im.timeout)
		defer cancel()
	}
	n, err := im.rows.InsertRows(ctx, rows)
	if err != nil {
		return 0, storeError("import", err)
	}
	im.logger.Info("rows imported", zap.String("file", filename), zap.Int("rows", n))
	if im.onWrite != nil {
		im.onWrite()
	}
	return n, nil
}
