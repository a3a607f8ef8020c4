package httpapi

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/i474232898/weather-polling/internal/broadcast"
	"github.com/i474232898/weather-polling/internal/polling"
	"github.com/i474232898/weather-polling/internal/weather"
)

var validate = validator.New()

const recentEventsLimit = 50

// Handler serves the location list, cached weather, refresh and settings.
type Handler struct {
	store     weather.Store
	manager   *polling.Manager
	providers map[string]bool
	log       *zap.SugaredLogger

	mu       sync.RWMutex
	settings polling.Settings
	// onSettings runs after settings were changed and triggers reset.
	onSettings func(polling.Settings)

	eventsMu sync.Mutex
	events   []broadcast.Event
}

// NewHandler builds the handler. providers lists the accepted weather sources.
func NewHandler(store weather.Store, manager *polling.Manager, settings polling.Settings, providers []string, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	known := make(map[string]bool, len(providers))
	for _, p := range providers {
		known[p] = true
	}
	return &Handler{
		store:     store,
		manager:   manager,
		providers: known,
		log:       log,
		settings:  settings,
	}
}

// OnSettingsChange registers fn to run after every accepted settings update.
func (h *Handler) OnSettingsChange(fn func(polling.Settings)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onSettings = fn
}

// Settings returns the current settings.
func (h *Handler) Settings() polling.Settings {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.settings
}

// Follow records events from bus for the recent events endpoint until ctx ends.
func (h *Handler) Follow(ctx context.Context, bus *broadcast.LocalBus) {
	events, unsubscribe := bus.Subscribe()
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				h.recordEvent(ev)
			}
		}
	}()
}

func (h *Handler) recordEvent(ev broadcast.Event) {
	h.eventsMu.Lock()
	defer h.eventsMu.Unlock()
	h.events = append(h.events, ev)
	if len(h.events) > recentEventsLimit {
		h.events = h.events[len(h.events)-recentEventsLimit:]
	}
}

// NewApp creates the Fiber app with the centralized error handler and global middleware.
func NewApp(name string) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               name,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": name,
		})
	})
	return app
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, h *Handler) {
	v1 := app.Group("/api/v1")

	v1.Get("/locations", h.listLocations)
	v1.Post("/locations", h.addLocation)
	v1.Delete("/locations/:id", h.deleteLocation)

	v1.Get("/weather/:id", h.getWeather)
	v1.Get("/weather/:id/history", h.getHistory)

	v1.Post("/refresh", h.refresh)
	v1.Get("/settings", h.getSettings)
	v1.Put("/settings", h.putSettings)

	v1.Get("/events/recent", h.recentEvents)
}

func (h *Handler) listLocations(c *fiber.Ctx) error {
	list, err := h.store.ReadLocationList(c.UserContext())
	if err != nil {
		h.log.Errorw("read location list failed", "error", err)
		return fiber.NewError(fiber.StatusInternalServerError, "failed to read locations")
	}
	for _, loc := range list {
		w, err := h.store.ReadWeather(c.UserContext(), loc)
		if err == nil {
			loc.Weather = w
		}
	}
	if list == nil {
		list = []*weather.Location{}
	}
	return c.JSON(list)
}

// locationRequest is the body of POST /locations.
type locationRequest struct {
	CityID        string   `json:"cityId"`
	Latitude      *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude     *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
	TimeZone      string   `json:"timeZone" validate:"omitempty,timezone"`
	Country       string   `json:"country"`
	CountryCode   string   `json:"countryCode" validate:"omitempty,len=2"`
	Province      string   `json:"province"`
	City          string   `json:"city"`
	District      string   `json:"district"`
	WeatherSource string   `json:"weatherSource"`
}

func (r locationRequest) toLocation() *weather.Location {
	return &weather.Location{
		CityID:        r.CityID,
		Latitude:      *r.Latitude,
		Longitude:     *r.Longitude,
		TimeZone:      r.TimeZone,
		Country:       r.Country,
		CountryCode:   r.CountryCode,
		Province:      r.Province,
		City:          r.City,
		District:      r.District,
		WeatherSource: r.WeatherSource,
		InChina:       r.CountryCode == "CN",
	}
}

func (h *Handler) addLocation(c *fiber.Ctx) error {
	var req locationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if req.WeatherSource != "" && !h.providers[req.WeatherSource] {
		return fiber.NewError(fiber.StatusBadRequest, "unknown weather source "+req.WeatherSource)
	}

	loc := req.toLocation()
	ctx := c.UserContext()
	list, err := h.store.ReadLocationList(ctx)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to read locations")
	}
	for _, existing := range list {
		if existing.FormattedID() == loc.FormattedID() {
			return fiber.NewError(fiber.StatusConflict, "location already exists")
		}
	}
	if err := h.store.WriteLocation(ctx, loc); err != nil {
		h.log.Errorw("write location failed", "location", loc.FormattedID(), "error", err)
		return fiber.NewError(fiber.StatusInternalServerError, "failed to store location")
	}

	h.log.Infow("location added", "location", loc.FormattedID())
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":       loc.FormattedID(),
		"location": loc,
	})
}

func (h *Handler) deleteLocation(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.store.DeleteLocation(c.UserContext(), id); err != nil {
		if errors.Is(err, weather.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "location not found")
		}
		return fiber.NewError(fiber.StatusInternalServerError, "failed to delete location")
	}
	h.log.Infow("location deleted", "location", id)
	return c.SendStatus(fiber.StatusNoContent)
}

// findLocation returns the list entry whose formatted id is id.
func (h *Handler) findLocation(c *fiber.Ctx, id string) (*weather.Location, error) {
	list, err := h.store.ReadLocationList(c.UserContext())
	if err != nil {
		return nil, fiber.NewError(fiber.StatusInternalServerError, "failed to read locations")
	}
	for _, loc := range list {
		if loc.FormattedID() == id {
			return loc, nil
		}
	}
	return nil, fiber.NewError(fiber.StatusNotFound, "location not found")
}

func (h *Handler) getWeather(c *fiber.Ctx) error {
	loc, err := h.findLocation(c, c.Params("id"))
	if err != nil {
		return err
	}
	w, err := h.store.ReadWeather(c.UserContext(), loc)
	if err != nil {
		if errors.Is(err, weather.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "no weather data for requested location")
		}
		return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather data")
	}
	return c.JSON(w)
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	Date string `validate:"required,datetime=2006-01-02"`
}

func (h *Handler) getHistory(c *fiber.Ctx) error {
	q := historyQuery{Date: c.Query("date")}
	if err := validate.Struct(q); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "date query parameter must be YYYY-MM-DD")
	}
	loc, err := h.findLocation(c, c.Params("id"))
	if err != nil {
		return err
	}
	hist, err := h.store.ReadHistory(c.UserContext(), loc, q.Date)
	if err != nil {
		if errors.Is(err, weather.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "no weather history for requested date")
		}
		return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather history")
	}
	return c.JSON(hist)
}

func (h *Handler) refresh(c *fiber.Ctx) error {
	h.manager.ResetAllBackgroundTask(h.Settings(), true)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "refresh scheduled"})
}

// settingsBody is the wire form of polling.Settings.
type settingsBody struct {
	BackgroundFree          bool   `json:"backgroundFree"`
	UpdateIntervalEnabled   bool   `json:"updateIntervalEnabled"`
	UpdateInterval          string `json:"updateInterval" validate:"required"`
	TodayForecastEnabled    bool   `json:"todayForecastEnabled"`
	TodayForecastTime       string `json:"todayForecastTime"`
	TomorrowForecastEnabled bool   `json:"tomorrowForecastEnabled"`
	TomorrowForecastTime    string `json:"tomorrowForecastTime"`
}

func toBody(s polling.Settings) settingsBody {
	return settingsBody{
		BackgroundFree:          s.BackgroundFree,
		UpdateIntervalEnabled:   s.UpdateIntervalEnabled,
		UpdateInterval:          s.UpdateInterval.String(),
		TodayForecastEnabled:    s.TodayForecastEnabled,
		TodayForecastTime:       s.TodayForecastTime,
		TomorrowForecastEnabled: s.TomorrowForecastEnabled,
		TomorrowForecastTime:    s.TomorrowForecastTime,
	}
}

func (b settingsBody) toSettings() (polling.Settings, error) {
	interval, err := time.ParseDuration(b.UpdateInterval)
	if err != nil {
		return polling.Settings{}, err
	}
	return polling.Settings{
		BackgroundFree:          b.BackgroundFree,
		UpdateIntervalEnabled:   b.UpdateIntervalEnabled,
		UpdateInterval:          interval,
		TodayForecastEnabled:    b.TodayForecastEnabled,
		TodayForecastTime:       b.TodayForecastTime,
		TomorrowForecastEnabled: b.TomorrowForecastEnabled,
		TomorrowForecastTime:    b.TomorrowForecastTime,
	}, nil
}

func (h *Handler) getSettings(c *fiber.Ctx) error {
	return c.JSON(toBody(h.Settings()))
}

func (h *Handler) putSettings(c *fiber.Ctx) error {
	var body settingsBody
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	settings, err := body.toSettings()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid updateInterval")
	}
	if err := settings.Validate(); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	h.mu.Lock()
	h.settings = settings
	onSettings := h.onSettings
	h.mu.Unlock()

	h.manager.ResetAllBackgroundTask(settings, false)
	if onSettings != nil {
		onSettings(settings)
	}
	h.log.Infow("settings updated", "background_free", settings.BackgroundFree, "any_enabled", settings.AnyEnabled())
	return c.JSON(toBody(settings))
}

func (h *Handler) recentEvents(c *fiber.Ctx) error {
	h.eventsMu.Lock()
	out := make([]broadcast.Event, len(h.events))
	copy(out, h.events)
	h.eventsMu.Unlock()
	return c.JSON(out)
}
