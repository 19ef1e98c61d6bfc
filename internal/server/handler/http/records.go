package http

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/atinyakov/DocKeeper/internal/filter"
	"github.com/atinyakov/DocKeeper/internal/models"
	"github.com/atinyakov/DocKeeper/internal/service"
)

// RecordService is the storage surface a RecordHandler drives.
type RecordService interface {
	Create(ctx context.Context, rec models.Record) (models.Record, error)
	CreateMany(ctx context.Context, recs []models.Record) ([]any, error)
	List(ctx context.Context) ([]models.Record, error)
	Get(ctx context.Context, rawID string) (models.Lookup, error)
	Search(ctx context.Context, values url.Values, params []filter.Param) (filter.Filter, []models.Record, error)
	FindByField(ctx context.Context, field, value string) (models.Lookup, error)
	Query(ctx context.Context, q service.QueryRequest) ([]models.Record, error)
	Count(ctx context.Context, values url.Values) (filter.Filter, int64, error)
	Update(ctx context.Context, rawID string, set models.Record) (models.UpdateResult, error)
	UpdateAndReturn(ctx context.Context, rawID string, set models.Record) (models.Lookup, error)
	UpdateMany(ctx context.Context, doc bson.M, set models.Record) (models.UpdateResult, error)
	Replace(ctx context.Context, rawID string, rec models.Record) (models.UpdateResult, error)
	Delete(ctx context.Context, rawID string) (models.DeleteResult, error)
	DeleteAndReturn(ctx context.Context, rawID string) (models.Lookup, error)
	DeleteMany(ctx context.Context, doc bson.M) (models.DeleteResult, error)
	DeleteAll(ctx context.Context) (models.DeleteResult, error)
	Stats(ctx context.Context) (models.Record, error)
}

// RecordHandler serves the CRUD surface of one collection.
type RecordHandler struct {
	// Resource is the collection name and the URL prefix.
	Resource string
	// Entity is the singular display name used in messages.
	Entity  string
	Service RecordService
	Log     *zap.Logger
}

// NewRecordHandler returns a handler for resource backed by svc.
func NewRecordHandler(resource string, svc RecordService, log *zap.Logger) *RecordHandler {
	return &RecordHandler{
		Resource: resource,
		Entity:   EntityName(resource),
		Service:  svc,
		Log:      log,
	}
}

// EntityName turns a plural collection name into a capitalized singular,
// e.g. "students" -> "Student", "categories" -> "Category".
func EntityName(resource string) string {
	name := resource
	switch {
	case strings.HasSuffix(name, "ies") && len(name) > 3:
		name = strings.TrimSuffix(name, "ies") + "y"
	case strings.HasSuffix(name, "ss"):
	case strings.HasSuffix(name, "s") && len(name) > 1:
		name = strings.TrimSuffix(name, "s")
	}
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// Routes registers the collection routes on r. Fixed paths are
// registered before the /{id} routes they would otherwise shadow.
func (h *RecordHandler) Routes(r chi.Router) {
	r.Post("/", h.Create)
	r.Post("/bulk", h.CreateMany)
	r.Get("/", h.List)
	r.Get("/search", h.Search)
	r.Get("/search/age", h.SearchAge)
	r.Get("/by-email/{email}", h.ByEmail)
	r.Post("/query", h.Query)
	r.Get("/count", h.Count)
	r.Get("/stats", h.Stats)
	r.Put("/bulk", h.UpdateMany)
	r.Delete("/bulk", h.DeleteMany)
	r.Delete("/all", h.DeleteAll)

	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Put("/{id}/return", h.UpdateAndReturn)
	r.Put("/{id}/replace", h.Replace)
	r.Delete("/{id}", h.Delete)
	r.Delete("/{id}/return", h.DeleteAndReturn)
}

func (h *RecordHandler) plural(n int64) string {
	return fmt.Sprintf("%d %s", n, h.Resource)
}

func (h *RecordHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	fail(w, r, h.Log, err)
}

func records(docs []models.Record) []models.Record {
	if docs == nil {
		return []models.Record{}
	}
	return docs
}

// Create handles POST /{resource}.
func (h *RecordHandler) Create(w http.ResponseWriter, r *http.Request) {
	var rec models.Record
	if err := decodeBody(r, &rec); err != nil {
		h.fail(w, r, err)
		return
	}
	if rec == nil {
		rec = models.Record{}
	}

	created, err := h.Service.Create(r.Context(), rec)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ok(envelope{
		"message":    h.Entity + " created successfully!",
		"insertedId": created[models.IDField],
		"data":       created,
	}))
}

// CreateMany handles POST /{resource}/bulk.
func (h *RecordHandler) CreateMany(w http.ResponseWriter, r *http.Request) {
	recs, err := decodeArray[models.Record](r)
	if err != nil {
		if errors.Is(err, errNotArray) {
			writeError(w, http.StatusBadRequest, "Request body must be an array")
			return
		}
		h.fail(w, r, err)
		return
	}

	ids, err := h.Service.CreateMany(r.Context(), recs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ok(envelope{
		"message":       h.plural(int64(len(ids))) + " created!",
		"insertedCount": len(ids),
		"insertedIds":   ids,
	}))
}

// List handles GET /{resource}.
func (h *RecordHandler) List(w http.ResponseWriter, r *http.Request) {
	docs, err := h.Service.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(envelope{"count": len(docs), "data": records(docs)}))
}

// Get handles GET /{resource}/{id}.
func (h *RecordHandler) Get(w http.ResponseWriter, r *http.Request) {
	l, err := h.Service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !l.Found {
		writeNotFound(w, h.Entity)
		return
	}
	writeJSON(w, http.StatusOK, ok(envelope{"data": l.Record}))
}

// Search handles GET /{resource}/search?name=&email=&minAge=&maxAge=.
func (h *RecordHandler) Search(w http.ResponseWriter, r *http.Request) {
	f, docs, err := h.Service.Search(r.Context(), r.URL.Query(), filter.SearchParams)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(envelope{
		"count": len(docs),
		"query": f.BSON(),
		"data":  records(docs),
	}))
}

// SearchAge handles GET /{resource}/search/age?min=&max=.
func (h *RecordHandler) SearchAge(w http.ResponseWriter, r *http.Request) {
	_, docs, err := h.Service.Search(r.Context(), r.URL.Query(), filter.AgeRangeParams)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(envelope{"count": len(docs), "data": records(docs)}))
}

// ByEmail handles GET /{resource}/by-email/{email}.
func (h *RecordHandler) ByEmail(w http.ResponseWriter, r *http.Request) {
	l, err := h.Service.FindByField(r.Context(), "email", chi.URLParam(r, "email"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !l.Found {
		writeNotFound(w, h.Entity)
		return
	}
	writeJSON(w, http.StatusOK, ok(envelope{"data": l.Record}))
}

type queryBody struct {
	Filter bson.M `bson:"filter"`
	Sort   bson.D `bson:"sort"`
	Limit  any    `bson:"limit"`
}

// parseLimit accepts a number or a numeric string. Zero means no limit and
// a negative limit -n returns n records, as a cursor limit does.
func parseLimit(v any) (int64, error) {
	n, err := limitValue(v)
	if n < 0 {
		n = -n
	}
	return n, err
}

func limitValue(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n == math.Trunc(n) {
			return int64(n), nil
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: limit must be an integer", errBadBody)
}

// Query handles POST /{resource}/query with body {filter, sort, limit}.
func (h *RecordHandler) Query(w http.ResponseWriter, r *http.Request) {
	var body queryBody
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := parseLimit(body.Limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	docs, err := h.Service.Query(r.Context(), service.QueryRequest{
		Filter: body.Filter,
		Sort:   body.Sort,
		Limit:  limit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := envelope{"count": len(docs), "data": records(docs)}
	if body.Filter != nil {
		resp["filter"] = body.Filter
	}
	writeJSON(w, http.StatusOK, ok(resp))
}

// Count handles GET /{resource}/count?age=&email=.
func (h *RecordHandler) Count(w http.ResponseWriter, r *http.Request) {
	f, n, err := h.Service.Count(r.Context(), r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(envelope{"count": n, "filter": f.BSON()}))
}

// Stats handles GET /{resource}/stats.
func (h *RecordHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Service.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(envelope{"stats": stats}))
}

// Update handles PUT /{resource}/{id}.
func (h *RecordHandler) Update(w http.ResponseWriter, r *http.Request) {
	var set models.Record
	if err := decodeBody(r, &set); err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.Service.Update(r.Context(), chi.URLParam(r, "id"), set)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res.Matched == 0 {
		writeNotFound(w, h.Entity)
		return
	}
	writeJSON(w, http.StatusOK, ok(envelope{
		"message":       h.Entity + " updated successfully!",
		"matchedCount":  res.Matched,
		"modifiedCount": res.Modified,
	}))
}

// UpdateAndReturn handles PUT /{resource}/{id}/return.
func (h *RecordHandler) UpdateAndReturn(w http.ResponseWriter, r *http.Request) {
	var set models.Record
	if err := decodeBody(r, &set); err != nil {
		h.fail(w, r, err)
		return
	}

	l, err := h.Service.UpdateAndReturn(r.Context(), chi.URLParam(r, "id"), set)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !l.Found {
		writeNotFound(w, h.Entity)
		return
	}
	writeJSON(w, http.StatusOK, ok(envelope{
		"message": h.Entity + " updated successfully!",
		"data":    l.Record,
	}))
}

type bulkUpdateBody struct {
	Filter bson.M        `bson:"filter"`
	Update models.Record `bson:"update"`
}

// UpdateMany handles PUT /{resource}/bulk with body {filter, update}.
func (h *RecordHandler) UpdateMany(w http.ResponseWriter, r *http.Request) {
	var body bulkUpdateBody
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.Service.UpdateMany(r.Context(), body.Filter, body.Update)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(envelope{
		"message":       "Updated " + h.plural(res.Modified),
		"matchedCount":  res.Matched,
		"modifiedCount": res.Modified,
		"filter":        body.Filter,
		"update":        body.Update,
	}))
}

// Replace handles PUT /{resource}/{id}/replace.
func (h *RecordHandler) Replace(w http.ResponseWriter, r *http.Request) {
	var rec models.Record
	if err := decodeBody(r, &rec); err != nil {
		h.fail(w, r, err)
		return
	}
	if rec == nil {
		rec = models.Record{}
	}

	res, err := h.Service.Replace(r.Context(), chi.URLParam(r, "id"), rec)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res.Matched == 0 {
		writeNotFound(w, h.Entity)
		return
	}
	writeJSON(w, http.StatusOK, ok(envelope{
		"message":       h.Entity + " replaced successfully!",
		"matchedCount":  res.Matched,
		"modifiedCount": res.Modified,
	}))
}

// Delete handles DELETE /{resource}/{id}.
func (h *RecordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res.Deleted == 0 {
		writeNotFound(w, h.Entity)
		return
	}
	writeJSON(w, http.StatusOK, ok(envelope{
		"message":      h.Entity + " deleted successfully!",
		"deletedCount": res.Deleted,
	}))
}

// DeleteAndReturn handles DELETE /{resource}/{id}/return.
func (h *RecordHandler) DeleteAndReturn(w http.ResponseWriter, r *http.Request) {
	l, err := h.Service.DeleteAndReturn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !l.Found {
		writeNotFound(w, h.Entity)
		return
	}
	writeJSON(w, http.StatusOK, ok(envelope{
		"message":         h.Entity + " deleted successfully!",
		"deletedDocument": l.Record,
	}))
}

type bulkDeleteBody struct {
	Filter bson.M `bson:"filter"`
}

// DeleteMany handles DELETE /{resource}/bulk with body {filter}.
func (h *RecordHandler) DeleteMany(w http.ResponseWriter, r *http.Request) {
	var body bulkDeleteBody
	if err := decodeBody(r, &body); err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.Service.DeleteMany(r.Context(), body.Filter)
	if errors.Is(err, service.ErrEmptyFilter) {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Filter is required. Use DELETE /%s/all to delete everything", h.Resource))
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(envelope{
		"message":      "Deleted " + h.plural(res.Deleted),
		"deletedCount": res.Deleted,
		"filter":       body.Filter,
	}))
}

// DeleteAll handles DELETE /{resource}/all.
func (h *RecordHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.DeleteAll(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Log.Warn("collection cleared",
		zap.String("collection", h.Resource),
		zap.Int64("deleted", res.Deleted),
	)
	writeJSON(w, http.StatusOK, ok(envelope{
		"message":      "Deleted ALL " + h.plural(res.Deleted),
		"deletedCount": res.Deleted,
	}))
}
