package app

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// modelEntry is one listing row in the OpenAI models shape.
type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// listModelsHandler serves GET /v1/models and /v1/models/:provider.
func listModelsHandler(conn *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		provider := strings.TrimSpace(c.Param("provider"))

		query := conn.WithContext(c.Request.Context()).
			Table("models").
			Select("models.model_id, deployments.provider_name").
			Joins("JOIN deployments ON deployments.model_id = models.id AND deployments.active = ?", true).
			Where("models.active = ?", true).
			Order("models.model_id ASC")
		if provider != "" {
			query = query.Where("deployments.provider_name = ?", provider)
		}

		var rows []struct {
			ModelID      string
			ProviderName string
		}
		if errFind := query.Find(&rows).Error; errFind != nil {
			log.WithError(errFind).Error("models: listing query failed")
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": gin.H{"message": "Service temporarily unavailable", "type": "error"},
			})
			return
		}

		entries := make([]modelEntry, 0, len(rows))
		for _, row := range rows {
			entries = append(entries, modelEntry{
				ID:      row.ModelID,
				Object:  "model",
				OwnedBy: row.ProviderName,
			})
		}
		c.JSON(http.StatusOK, gin.H{"object": "list", "data": entries})
	}
}
