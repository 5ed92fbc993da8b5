package reshape

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/firmguard/internal/apierror"
)

// ResultHandler produces a response value instead of writing it, so the
// value can be post-processed before it is encoded.
type ResultHandler func(r *http.Request) (status int, value any, err error)

// PostProcessor rewrites a decoded success payload. It sees native field
// names, before any version transformation.
type PostProcessor func(r *http.Request, payload any) any

// Wrap serves h, applying post processors in order to its result and then
// converting it from the native version to the version the client
// negotiated. Errors of type *apierror.Error are written with their status;
// other errors become a 500 INTERNAL_ERROR.
func Wrap(h ResultHandler, t *Transformer, native Version, post ...PostProcessor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := zerolog.Ctx(r.Context())
		requested := NegotiateVersion(r, native)

		status, value, err := h(r)
		from := native
		failed := err != nil
		if failed {
			var apiErr *apierror.Error
			if !errors.As(err, &apiErr) {
				logger.Error().Err(err).Str("path", r.URL.Path).Msg("Handler failed")
				apiErr = apierror.NewError(http.StatusInternalServerError, apierror.CodeInternal)
			}
			status, value = apiErr.Status, apiErr.Response
			w.Header().Set(apierror.CodeHeader, string(apiErr.Response.Code))
			// the envelope is always built in the v1 shape
			from = V1
		}

		payload, err := toGeneric(value)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to encode response")
			apierror.Write(w, http.StatusInternalServerError, apierror.CodeInternal)
			return
		}

		if !failed {
			for _, p := range post {
				payload = p(r, payload)
			}
		}
		if t != nil {
			payload = t.Transform(payload, from, requested)
		}

		if status == 0 {
			status = http.StatusOK
		}

		w.Header().Set(APIVersionHeader, requested.String())
		if status == http.StatusNoContent || payload == nil {
			w.WriteHeader(status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			logger.Warn().Err(err).Msg("Failed to write response")
		}
	})
}

// toGeneric converts a value into the generic JSON form the transformer
// operates on.
func toGeneric(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
