package controllers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/checkin/services"
	"github.com/cppla/checkin/store"
	"github.com/cppla/checkin/utils"
)

// RowImporter loads a delimited file into the record table.
type RowImporter interface {
	Import(ctx context.Context, filename string, r io.Reader) (int, error)
}

// ImportController handles bulk uploads of CSV/TSV files.
type ImportController struct {
	importer RowImporter
	maxBytes int64
}

// NewImportController creates a controller that rejects bodies larger than maxBytes.
func NewImportController(importer RowImporter, maxBytes int64) *ImportController {
	return &ImportController{importer: importer, maxBytes: maxBytes}
}

// ImportCSV handles POST /api/import-csv with a multipart "file" field.
func (i *ImportController) ImportCSV(ctx *gin.Context) {
	if i.maxBytes > 0 {
		ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, i.maxBytes)
	}

	header, err := ctx.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.Error(ctx, http.StatusRequestEntityTooLarge, 41301, fmt.Sprintf("file exceeds %d bytes", i.maxBytes))
			return
		}
		utils.Error(ctx, http.StatusBadRequest, 40040, "No file uploaded")
		return
	}
	f, err := header.Open()
	if err != nil {
		utils.ErrorDetail(ctx, http.StatusBadRequest, 40041, "Failed to read uploaded file", err)
		return
	}
	defer f.Close()

	n, err := i.importer.Import(ctx.Request.Context(), header.Filename, f)
	if err != nil {
		var he *services.HeaderError
		switch {
		case errors.As(err, &he):
			ctx.JSON(http.StatusBadRequest, gin.H{
				"code":           40042,
				"message":        "Invalid header names. Only letters, numbers, hyphens and underscores are allowed.",
				"invalidHeaders": he.Invalid,
			})
		case errors.Is(err, store.ErrTableMissing):
			ctx.JSON(http.StatusNotFound, gin.H{
				"code":    40440,
				"message": "The users table does not exist. Run /api/setup-db first.",
				"sql":     store.CreateTableSQL,
			})
		default:
			failService(ctx, 50040, "Failed to import file", err)
		}
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"code":     0,
		"message":  fmt.Sprintf("Successfully imported %d rows", n),
		"rowCount": n,
	})
}
