package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"wow-auction-collector/internal/models"
)

// ExportAuctions writes the entity's aggregated view as an .xlsx download.
func (h *Handler) ExportAuctions(c *gin.Context) {
	entity, err := models.ParseEntity(c.Param("entity"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entry, _, err := h.cache.Get(c.Request.Context(), entity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load auctions for " + entity.String()})
		return
	}

	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	headers := []string{"Item ID", "Item Name", "Quality", "Unit Price (copper)", "Quantity", "Time Left", "Collected At"}
	for i, title := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, title)
	}
	for row, item := range entry.Items {
		values := []interface{}{
			item.ItemID,
			item.ItemName,
			item.ItemQuality,
			item.UnitPrice,
			item.Quantity,
			item.TimeLeft,
			item.CollectionTime.Format(time.RFC3339),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, v)
		}
	}

	filename := fmt.Sprintf("auctions_%s_%s.xlsx", entity.String(), entry.BuiltAt.Format("20060102_150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := f.Write(c.Writer); err != nil {
		h.log.WithError(err).Error("xlsx export write failed")
	}
}
