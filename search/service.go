// Package search answers catalogue queries submitted by chat clients.
// The wire endpoint decodes the query form and paging metadata into a
// Request; the service validates it, runs the listing query and shapes
// the reply. Stanza-level errors are returned as *xmpp.Error values.
package search

import (
	"context"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/google/shlex"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/horazont/muchopper/storage"
	"github.com/horazont/muchopper/storage/tables"
	"github.com/horazont/muchopper/types"
	"github.com/horazont/muchopper/xmpp"
)

// NSSearch is the namespace of the search request and result elements.
const NSSearch = "https://xmlns.zombofant.net/muclumbus/search/1.0"

const (
	maxQueryLength   = 1024
	maxKeywords      = 5
	minKeywordLength = 3
	maxPageSize      = 100

	orderNUsers  = "nusers"
	orderAddress = "address"
)

// Request is a decoded search query: the submitted parameter form and
// the optional paging metadata.
type Request struct {
	Form *xmpp.Form
	RSM  *xmpp.RSMRequest
}

// ResultItem is one room of a search reply.
type ResultItem struct {
	Address     string `xml:"address,attr"`
	IsOpen      bool   `xml:"is-open,attr"`
	Name        string `xml:"name,omitempty"`
	Description string `xml:"description,omitempty"`
	Language    string `xml:"language,omitempty"`
	NUsers      *int   `xml:"nusers,omitempty"`
}

// Response is the reply to a search request. Either FormTemplate is
// set (the empty-request case) or Items and RSM describe a result page.
type Response struct {
	FormTemplate *xmpp.Form
	Items        []ResultItem
	RSM          *xmpp.RSMResponse
	// More reports whether rows beyond this page matched.
	More bool
}

// Service executes catalogue searches against the store.
type Service struct {
	db     storage.Database
	logger *logrus.Entry
}

func NewService(db storage.Database) *Service {
	return &Service{
		db:     db,
		logger: logrus.WithField("component", "search"),
	}
}

// HandleSearch validates and executes one search request. Validation
// failures are returned as *xmpp.Error for the endpoint to relay.
func (s *Service) HandleSearch(ctx context.Context, req *Request) (*Response, error) {
	if s.db == nil {
		return nil, xmpp.NewError(xmpp.ConditionInternalServerError,
			"Search service not initialised yet")
	}

	if req.Form == nil && req.RSM == nil {
		return &Response{FormTemplate: FormTemplate()}, nil
	}

	pageSize := maxPageSize
	afterRaw := ""
	if req.RSM != nil {
		if req.RSM.Before != nil || req.RSM.Index != nil ||
			req.RSM.First != nil || req.RSM.Last != nil {
			return nil, &xmpp.Error{
				Type:      xmpp.ErrorTypeModify,
				Condition: xmpp.ConditionFeatureNotImplemented,
				Text:      "Attempt to use unsupported RSM features",
			}
		}
		afterRaw = req.RSM.After
		if req.RSM.Max != nil && *req.RSM.Max > 0 {
			pageSize = clamp(*req.RSM.Max, 1, maxPageSize)
		}
	}

	if req.Form == nil || req.Form.Type() != xmpp.FormTypeSearchParams {
		return nil, xmpp.NewError(xmpp.ConditionBadRequest,
			"Form missing or invalid FORM_TYPE")
	}

	orderBy := req.Form.Value("key")
	if orderBy == "" {
		orderBy = orderNUsers
	}
	if orderBy != orderNUsers && orderBy != orderAddress {
		return nil, xmpp.NewError(xmpp.ConditionBadRequest, "Invalid key value")
	}

	query := req.Form.Value("q")
	if utf8.RuneCountInString(query) > maxQueryLength {
		return nil, xmpp.NewError(xmpp.ConditionPolicyViolation, "Query too long")
	}

	filter := &tables.SearchFilter{
		OrderByAddress:    orderBy == orderAddress,
		SearchName:        boolFieldDefaultTrue(req.Form, "sinname"),
		SearchDescription: boolFieldDefaultTrue(req.Form, "sindescription"),
		SearchAddress:     boolFieldDefaultTrue(req.Form, "sinaddr"),
	}
	if query != "" {
		keywords, err := PrepareKeywords(query)
		if err != nil {
			return nil, xmpp.NewError(xmpp.ConditionBadRequest,
				"Failed to parse search query")
		}
		if !filter.SearchAddress && !filter.SearchDescription && !filter.SearchName {
			return nil, xmpp.NewError(xmpp.ConditionBadRequest, "Search scope is empty")
		}
		if len(keywords) == 0 {
			return nil, xmpp.NewError(xmpp.ConditionBadRequest, "No valid search terms")
		}
		if len(keywords) > maxKeywords {
			return nil, xmpp.NewError(xmpp.ConditionPolicyViolation,
				"Too many search terms")
		}
		filter.Keywords = keywords
	}
	if minUsers, ok := req.Form.IntValue("min_users"); ok && minUsers > 0 {
		filter.MinUsers = float64(minUsers)
	}

	after, err := decodeAfter(afterRaw, filter.OrderByAddress)
	if err != nil {
		return nil, xmpp.NewError(xmpp.ConditionBadRequest, "Invalid after value")
	}

	// one extra row decides whether a further page exists
	rows, err := s.db.GetPublicRooms(ctx, filter, after, pageSize+1)
	if err != nil {
		s.logger.WithError(err).Error("Search query failed")
		return nil, xmpp.NewError(xmpp.ConditionInternalServerError, "")
	}
	more := len(rows) > pageSize
	if more {
		rows = rows[:pageSize]
	}

	resp := &Response{More: more}
	for i := range rows {
		resp.Items = append(resp.Items, viewToItem(&rows[i]))
	}
	if len(rows) > 0 {
		key := pageKeyOf(&rows[len(rows)-1], filter.OrderByAddress)
		max := pageSize
		resp.RSM = &xmpp.RSMResponse{
			First: &xmpp.RSMFirst{Value: key},
			Last:  key,
			Max:   &max,
		}
	}
	return resp, nil
}

// FormTemplate is the blank parameter form returned for an empty
// request, advertising the accepted fields.
func FormTemplate() *xmpp.Form {
	return &xmpp.Form{
		FormType: "form",
		Fields: []xmpp.FormField{
			{Var: "FORM_TYPE", Type: "hidden", Values: []string{xmpp.FormTypeSearchParams}},
			{Var: "q", Type: "text-single", Label: "Search for"},
			{Var: "sinname", Type: "boolean", Label: "Search in name", Values: []string{"true"}},
			{Var: "sindescription", Type: "boolean", Label: "Search in description", Values: []string{"true"}},
			{Var: "sinaddr", Type: "boolean", Label: "Search in address", Values: []string{"true"}},
			{Var: "min_users", Type: "text-single", Label: "Minimum number of users", Values: []string{"1"}},
			{Var: "key", Type: "list-single", Label: "Sort results by", Values: []string{orderNUsers}},
		},
	}
}

// PrepareKeywords tokenises a query with shell-like quoting rules and
// drops tokens shorter than three characters. Duplicates are removed,
// first occurrence wins.
func PrepareKeywords(query string) ([]string, error) {
	tokens, err := shlex.Split(query)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(tokens))
	var keywords []string
	for _, token := range tokens {
		if utf8.RuneCountInString(token) < minKeywordLength || seen[token] {
			continue
		}
		seen[token] = true
		keywords = append(keywords, token)
	}
	return keywords, nil
}

func decodeAfter(raw string, orderByAddress bool) (*tables.PageKey, error) {
	if raw == "" {
		return nil, nil
	}
	if orderByAddress {
		addr, err := types.ParseAddress(raw)
		if err != nil {
			return nil, err
		}
		return &tables.PageKey{Address: addr.String()}, nil
	}
	activity, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	// ParseFloat accepts NaN and infinities, which would break the
	// cursor comparison
	if math.IsNaN(activity) || math.IsInf(activity, 0) {
		return nil, errors.New("non-finite page cursor")
	}
	return &tables.PageKey{Activity: activity}, nil
}

func viewToItem(view *tables.PublicRoomView) ResultItem {
	item := ResultItem{
		Address:     view.Address,
		IsOpen:      view.IsOpen,
		Name:        view.Name.String,
		Description: view.Description.String,
		Language:    view.Language.String,
	}
	if view.NUsersMovingAverage.Valid {
		nusers := int(math.Round(view.NUsersMovingAverage.Float64))
		item.NUsers = &nusers
	}
	return item
}

func pageKeyOf(view *tables.PublicRoomView, orderByAddress bool) string {
	if orderByAddress {
		return view.Address
	}
	return strconv.FormatFloat(view.NUsersMovingAverage.Float64, 'g', -1, 64)
}

func boolFieldDefaultTrue(form *xmpp.Form, name string) bool {
	if value, ok := form.BoolValue(name); ok {
		return value
	}
	return true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
