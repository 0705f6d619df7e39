// Package httpapi serves the read-only JSON surface of the catalogue
// and, when enabled, the Prometheus metrics listener.
package httpapi

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/horazont/muchopper/storage"
	"github.com/horazont/muchopper/storage/tables"
	"github.com/horazont/muchopper/types"
)

const maxRoomsPerPage = 200

type roomItem struct {
	Address     string `json:"address"`
	NUsers      int    `json:"nusers"`
	IsOpen      bool   `json:"is_open"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Language    string `json:"language,omitempty"`
}

type roomsResponse struct {
	Total int64      `json:"total"`
	Items []roomItem `json:"items"`
	More  bool       `json:"more"`
	// Next is the opaque cursor for the following page.
	Next string `json:"next,omitempty"`
}

type apiError struct {
	Error string `json:"error"`
}

// API answers the JSON room listing endpoints.
type API struct {
	db     storage.Database
	logger *logrus.Entry
}

// NewRouter builds the HTTP routing table. Metrics are only mounted
// when enabled in the configuration.
func NewRouter(db storage.Database, metricsEnabled bool) *mux.Router {
	api := &API{
		db:     db,
		logger: logrus.WithField("component", "httpapi"),
	}
	router := mux.NewRouter()
	router.HandleFunc("/api/1.0/rooms", api.Rooms).Methods(http.MethodGet)
	router.HandleFunc("/api/1.0/rooms/unsafe", api.RoomsUnsafe).Methods(http.MethodGet)
	router.HandleFunc("/api/1.0/avatar/v1/{address}", api.Avatar).Methods(http.MethodGet)
	if metricsEnabled {
		router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
	return router
}

// Rooms lists the public catalogue ordered by activity, paginated by an
// opaque cursor handed out in the previous page.
func (a *API) Rooms(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	filter := &tables.SearchFilter{
		IncludeClosed: query.Has("include_closed"),
	}
	if raw := query.Get("min_users"); raw != "" {
		minUsers, err := strconv.Atoi(raw)
		if err != nil || minUsers < 0 {
			writeError(w, http.StatusBadRequest, "invalid min_users")
			return
		}
		filter.MinUsers = float64(minUsers)
	}

	limit := maxRoomsPerPage
	if raw := query.Get("max"); raw != "" {
		requested, err := strconv.Atoi(raw)
		if err != nil || requested <= 0 {
			writeError(w, http.StatusBadRequest, "invalid max")
			return
		}
		if requested < limit {
			limit = requested
		}
	}

	after, err := decodeCursor(query.Get("after"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cursor")
		return
	}

	total, err := a.db.CountPublicRooms(req.Context())
	if err != nil {
		a.serverError(w, err)
		return
	}
	rows, err := a.db.GetPublicRooms(req.Context(), filter, after, limit+1)
	if err != nil {
		a.serverError(w, err)
		return
	}

	resp := &roomsResponse{Total: total, Items: []roomItem{}}
	resp.More = len(rows) > limit
	if resp.More {
		rows = rows[:limit]
	}
	for i := range rows {
		resp.Items = append(resp.Items, viewToItem(&rows[i]))
	}
	if resp.More && len(rows) > 0 {
		last := &rows[len(rows)-1]
		resp.Next = encodeCursor(last.NUsersMovingAverage.Float64, last.Address)
	}
	writeJSON(w, http.StatusOK, resp)
}

// RoomsUnsafe is the keyword-searchable variant of Rooms. It accepts a
// free-form q parameter and is kept on a separate path so operators can
// shield it from crawlers.
func (a *API) RoomsUnsafe(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	q := strings.TrimSpace(query.Get("q"))
	if q == "" {
		a.Rooms(w, req)
		return
	}
	filter := &tables.SearchFilter{
		Keywords:          []string{q},
		SearchAddress:     true,
		SearchName:        true,
		SearchDescription: true,
		IncludeClosed:     query.Has("include_closed"),
	}
	after, err := decodeCursor(query.Get("after"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cursor")
		return
	}

	rows, err := a.db.GetPublicRooms(req.Context(), filter, after, maxRoomsPerPage+1)
	if err != nil {
		a.serverError(w, err)
		return
	}
	resp := &roomsResponse{Items: []roomItem{}}
	resp.More = len(rows) > maxRoomsPerPage
	if resp.More {
		rows = rows[:maxRoomsPerPage]
	}
	resp.Total = int64(len(rows))
	for i := range rows {
		resp.Items = append(resp.Items, viewToItem(&rows[i]))
	}
	if resp.More && len(rows) > 0 {
		last := &rows[len(rows)-1]
		resp.Next = encodeCursor(last.NUsersMovingAverage.Float64, last.Address)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Avatar serves the stored avatar of a room, if any.
func (a *API) Avatar(w http.ResponseWriter, req *http.Request) {
	raw := mux.Vars(req)["address"]
	addr, err := types.ParseAddress(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	avatar, err := a.db.GetAvatar(req.Context(), addr)
	if err != nil {
		a.serverError(w, err)
		return
	}
	if avatar == nil {
		writeError(w, http.StatusNotFound, "no avatar on record")
		return
	}
	w.Header().Set("Content-Type", avatar.MIMEType)
	w.Header().Set("ETag", `"`+avatar.Hash+`"`)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(avatar.Data)
}

func (a *API) serverError(w http.ResponseWriter, err error) {
	a.logger.WithError(err).Error("Request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func viewToItem(view *tables.PublicRoomView) roomItem {
	return roomItem{
		Address:     view.Address,
		NUsers:      int(math.Round(view.NUsersMovingAverage.Float64)),
		IsOpen:      view.IsOpen,
		Name:        view.Name.String,
		Description: view.Description.String,
		Language:    view.Language.String,
	}
}

// The page cursor is "activity:address"; the address may contain
// colons, so only the first separator counts.
func encodeCursor(activity float64, address string) string {
	return strconv.FormatFloat(activity, 'g', -1, 64) + ":" + address
}

func decodeCursor(raw string) (*tables.PageKey, error) {
	if raw == "" {
		return nil, nil
	}
	activityRaw, address, found := strings.Cut(raw, ":")
	if !found || address == "" {
		return nil, errInvalidCursor
	}
	activity, err := strconv.ParseFloat(activityRaw, 64)
	if err != nil {
		return nil, errInvalidCursor
	}
	return &tables.PageKey{Activity: activity, Address: address}, nil
}

var errInvalidCursor = errors.New("invalid page cursor")

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, &apiError{Error: message})
}
