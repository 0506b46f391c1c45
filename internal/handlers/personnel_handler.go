package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-order-fulfillment/internal/fulfillment"
	"github.com/imrishuroy/go-order-fulfillment/internal/personnel"
	"github.com/imrishuroy/go-order-fulfillment/internal/validation"
)

// RegisterPersonnelRoutes registers the courier registry routes.
func RegisterPersonnelRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	store := cfg.Personnel

	r.POST("/personnel", func(c *gin.Context) {
		var req validation.CreatePersonnelRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		p := &personnel.DeliveryPersonnel{
			PersonnelID: req.PersonnelID,
			Name:        req.Name,
			Phone:       req.Phone,
			VehicleType: req.VehicleType,
			Rating:      req.Rating,
			Active:      true,
		}
		if p.PersonnelID == "" {
			p.PersonnelID = "DP-" + uuid.NewString()
		}
		if req.Location != nil {
			p.CurrentLocation = &personnel.Location{Lat: validation.Float(req.Location.Lat), Lng: validation.Float(req.Location.Lng)}
		}

		err := store.Create(c.Request.Context(), p)
		if errors.Is(err, personnel.ErrAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "personnel_exists", "personnel_id": p.PersonnelID})
			return
		}
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, p)
	})

	r.GET("/personnel", func(c *gin.Context) {
		var q validation.ListPersonnelQuery
		if err := validation.BindQueryAndValidate(c, &q, v); err != nil {
			return
		}
		var (
			list []personnel.DeliveryPersonnel
			err  error
		)
		if q.Available {
			list, err = cfg.Service.AvailablePersonnel(c.Request.Context())
		} else {
			list, err = store.ListActive(c.Request.Context())
		}
		if err != nil {
			writeError(c, err)
			return
		}
		if list == nil {
			list = []personnel.DeliveryPersonnel{}
		}
		c.JSON(http.StatusOK, gin.H{"personnel": list, "count": len(list)})
	})

	r.GET("/personnel/:id/orders", func(c *gin.Context) {
		var q validation.PersonnelOrdersQuery
		if err := validation.BindQueryAndValidate(c, &q, v); err != nil {
			return
		}
		state := fulfillment.DeliveriesActive
		if q.State != "" {
			state = fulfillment.DeliveryState(q.State)
		}
		list, err := cfg.Service.DeliveriesFor(c.Request.Context(), c.Param("id"), state)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": list, "count": len(list), "state": state})
	})

	r.GET("/personnel/:id", func(c *gin.Context) {
		p, err := store.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		if p == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		c.JSON(http.StatusOK, p)
	})
}
