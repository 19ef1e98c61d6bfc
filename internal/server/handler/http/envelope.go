package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/atinyakov/DocKeeper/internal/filter"
	"github.com/atinyakov/DocKeeper/internal/identifier"
	"github.com/atinyakov/DocKeeper/internal/middleware"
	"github.com/atinyakov/DocKeeper/internal/models"
	"github.com/atinyakov/DocKeeper/internal/repository"
	"github.com/atinyakov/DocKeeper/internal/service"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// envelope is the JSON body of every response. success is always set.
type envelope map[string]any

func ok(fields envelope) envelope {
	fields["success"] = true
	return fields
}

// writeJSON encodes body before writing the status, so an unencodable
// payload still produces an envelope.
func writeJSON(w http.ResponseWriter, status int, body envelope) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		buf.Reset()
		status = http.StatusInternalServerError
		_ = json.NewEncoder(&buf).Encode(envelope{
			"success": false,
			"error":   "encode response: " + err.Error(),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{"success": false, "error": msg})
}

func writeNotFound(w http.ResponseWriter, entity string) {
	writeJSON(w, http.StatusNotFound, envelope{"success": false, "message": entity + " not found"})
}

// errorResponse maps an error to a status code and the message shown to
// the caller. Storage failures expose the underlying message.
func errorResponse(err error) (int, string) {
	var pe *filter.ParamError
	switch {
	case errors.Is(err, identifier.ErrInvalid):
		return http.StatusBadRequest, identifier.ErrInvalid.Error()
	case errors.As(err, &pe),
		errors.Is(err, filter.ErrUnsupported),
		errors.Is(err, filter.ErrForbidden),
		errors.Is(err, service.ErrEmptyBatch),
		errors.Is(err, service.ErrMissingUpdate),
		errors.Is(err, service.ErrOperatorField),
		errors.Is(err, errBadBody):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, repository.ErrDuplicateKey):
		return http.StatusConflict, err.Error()
	}
	return http.StatusInternalServerError, err.Error()
}

func fail(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	status, msg := errorResponse(err)
	if status >= http.StatusInternalServerError {
		log.Error("storage operation failed",
			zap.String("request_id", middleware.RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, msg)
}

var errBadBody = errors.New("invalid request body")

func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadBody, err)
	}
	return bytes.TrimSpace(data), nil
}

// decodeBody parses a JSON object body as relaxed Extended JSON into v. An
// empty body decodes as an empty object.
func decodeBody(r *http.Request, v any) error {
	data, err := readBody(r)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		data = []byte("{}")
	}
	if data[0] != '{' {
		return fmt.Errorf("%w: must be a JSON object", errBadBody)
	}
	if err := bson.UnmarshalExtJSON(data, false, v); err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return checkFinite(v)
}

// checkFinite rejects NaN and infinite doubles, which Extended JSON
// accepts but JSON responses cannot carry.
func checkFinite(v any) error {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%w: numbers must be finite", errBadBody)
		}
	case *models.Record:
		return checkFinite(*x)
	case bson.M:
		for _, e := range x {
			if err := checkFinite(e); err != nil {
				return err
			}
		}
	case bson.D:
		for _, e := range x {
			if err := checkFinite(e.Value); err != nil {
				return err
			}
		}
	case bson.A:
		for _, e := range x {
			if err := checkFinite(e); err != nil {
				return err
			}
		}
	case *queryBody:
		return checkAll(x.Filter, x.Sort, x.Limit)
	case *bulkUpdateBody:
		return checkAll(x.Filter, x.Update)
	case *bulkDeleteBody:
		return checkFinite(x.Filter)
	}
	return nil
}

func checkAll(vs ...any) error {
	for _, v := range vs {
		if err := checkFinite(v); err != nil {
			return err
		}
	}
	return nil
}

// errNotArray reports a bulk body that is not a JSON array.
var errNotArray = fmt.Errorf("%w: Request body must be an array", errBadBody)

// decodeArray parses a JSON array of objects.
func decodeArray[T any](r *http.Request) ([]T, error) {
	data, err := readBody(r)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || data[0] != '[' {
		return nil, errNotArray
	}
	// Extended JSON only decodes documents at the top level.
	var wrapped struct {
		Items []T `bson:"items"`
	}
	doc := append(append([]byte(`{"items":`), data...), '}')
	if err := bson.UnmarshalExtJSON(doc, false, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadBody, err)
	}
	for _, item := range wrapped.Items {
		if err := checkFinite(item); err != nil {
			return nil, err
		}
	}
	return wrapped.Items, nil
}
