package reshape

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/firmguard/internal/apierror"
)

func testTransformer() *Transformer {
	return &Transformer{
		Aliases: AliasTable{
			"case_number": "caseNumber",
			"created":     "createdAt",
		},
		DateFields: []string{"created", "hearingDate"},
	}
}

func generic(t *testing.T, s string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestParseVersion(t *testing.T) {
	for _, s := range []string{"1", "v1", "V1", "1.0", " v1 "} {
		v, err := ParseVersion(s)
		require.NoError(t, err, s)
		require.Equal(t, V1, v)
	}
	v, err := ParseVersion("v2")
	require.NoError(t, err)
	require.Equal(t, V2, v)

	_, err = ParseVersion("v3")
	require.Error(t, err)
}

func TestNegotiateVersion(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		headers  map[string]string
		expected Version
	}{
		{name: "path prefix", path: "/api/v1/cases", expected: V1},
		{name: "path wins over header", path: "/api/v1/cases", headers: map[string]string{AcceptVersionHeader: "2"}, expected: V1},
		{name: "accept version", path: "/cases", headers: map[string]string{AcceptVersionHeader: "v1"}, expected: V1},
		{name: "x-api-version", path: "/cases", headers: map[string]string{APIVersionHeader: "1"}, expected: V1},
		{name: "unknown header falls back", path: "/cases", headers: map[string]string{AcceptVersionHeader: "v9"}, expected: V2},
		{name: "no hints", path: "/cases", expected: V2},
		{name: "lookalike prefix", path: "/api/v10/cases", expected: V2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			require.Equal(t, tt.expected, NegotiateVersion(r, V2))
		})
	}
}

func TestTransform_fieldsAndDates(t *testing.T) {
	tr := testTransformer()

	v2 := generic(t, `{
		"data": [
			{"caseNumber": "C-1", "createdAt": "2026-01-15T09:30:00Z", "hearingDate": "2026-02-01T10:00:00+03:00"},
			{"caseNumber": "C-2", "createdAt": "not a date"}
		]
	}`)

	v1 := tr.Transform(v2, V2, V1)
	require.Equal(t, generic(t, `{
		"data": [
			{"case_number": "C-1", "created": "2026-01-15 09:30:00", "hearingDate": "2026-02-01 07:00:00"},
			{"case_number": "C-2", "created": "not a date"}
		]
	}`), v1)

	back := tr.Transform(v1, V1, V2)
	require.Equal(t, "2026-01-15T09:30:00Z", back.(map[string]any)["data"].([]any)[0].(map[string]any)["createdAt"])
	require.Equal(t, "C-1", back.(map[string]any)["data"].([]any)[0].(map[string]any)["caseNumber"])
}

func TestTransform_pagination(t *testing.T) {
	tr := testTransformer()

	v1 := generic(t, `{"data": [], "pagination": {"page": 3, "limit": 10, "total": 45, "pages": 5}}`)
	v2 := tr.Transform(v1, V1, V2).(map[string]any)

	page := v2["pagination"].(map[string]any)
	require.Equal(t, EncodeCursor(20), page["cursor"])
	require.Equal(t, true, page["hasMore"])
	require.EqualValues(t, 45, page["total"])

	roundTrip := tr.Transform(v2, V2, V1).(map[string]any)
	require.Equal(t, generic(t, `{"page": 3, "limit": 10, "total": 45, "pages": 5}`), roundTrip["pagination"])

	first := generic(t, `{"pagination": {"cursor": null, "limit": 10, "hasMore": true, "total": 45}}`)
	require.EqualValues(t, 1, tr.Transform(first, V2, V1).(map[string]any)["pagination"].(map[string]any)["page"])
}

func TestTransform_errorEnvelopes(t *testing.T) {
	tr := testTransformer()

	v1 := generic(t, `{"error": true, "message": "Resource not found", "code": "RESOURCE_NOT_FOUND", "messageAr": "المورد غير موجود"}`)
	v2 := tr.Transform(v1, V1, V2)
	require.Equal(t, generic(t, `{"success": false, "error": {"message": "Resource not found", "code": "RESOURCE_NOT_FOUND", "messageAr": "المورد غير موجود"}}`), v2)

	require.Equal(t, v1, tr.Transform(v2, V2, V1))

	withDetails := generic(t, `{"success": false, "error": {"message": "bad", "code": "X", "details": {"field": "email"}}}`)
	require.Equal(t, generic(t, `{"error": true, "message": "bad", "code": "X", "details": {"field": "email"}}`),
		tr.Transform(withDetails, V2, V1))

	notAnError := generic(t, `{"error": false, "created": "2026-01-15 09:30:00"}`)
	out := tr.Transform(notAnError, V1, V2).(map[string]any)
	require.Equal(t, false, out["error"])
	require.Equal(t, "2026-01-15T09:30:00Z", out["createdAt"])
}

func TestTransform_failuresReturnOriginal(t *testing.T) {
	tr := testTransformer()

	badCursor := generic(t, `{"pagination": {"cursor": "@@@", "limit": 10, "hasMore": false, "total": 1}}`)
	require.Equal(t, badCursor, tr.Transform(badCursor, V2, V1))

	fractional := generic(t, `{"pagination": {"page": 1.5, "limit": 10, "total": 1}}`)
	require.Equal(t, fractional, tr.Transform(fractional, V1, V2))

	var nilTransformer *Transformer
	payload := map[string]any{"a": 1}
	require.Equal(t, payload, nilTransformer.Transform(payload, V1, V2))

	require.Equal(t, "scalar", tr.Transform("scalar", V1, V2))
	require.Nil(t, tr.Transform(nil, V1, V2))
}

type caseView struct {
	CaseNumber string `json:"caseNumber"`
	CreatedAt  string `json:"createdAt"`
}

func TestWrap(t *testing.T) {
	tr := testTransformer()

	ok := Wrap(func(r *http.Request) (int, any, error) {
		return http.StatusOK, caseView{CaseNumber: "C-9", CreatedAt: "2026-03-01T08:00:00Z"}, nil
	}, tr, V2)

	t.Run("native version", func(t *testing.T) {
		w := httptest.NewRecorder()
		ok.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v2/cases/1", nil))
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "v2", w.Header().Get(APIVersionHeader))
		require.JSONEq(t, `{"caseNumber":"C-9","createdAt":"2026-03-01T08:00:00Z"}`, w.Body.String())
	})

	t.Run("v1 client", func(t *testing.T) {
		w := httptest.NewRecorder()
		ok.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/cases/1", nil))
		require.Equal(t, "v1", w.Header().Get(APIVersionHeader))
		require.JSONEq(t, `{"case_number":"C-9","created":"2026-03-01 08:00:00"}`, w.Body.String())
	})

	t.Run("api error for v2 client", func(t *testing.T) {
		h := Wrap(func(r *http.Request) (int, any, error) {
			return 0, nil, apierror.NewError(http.StatusNotFound, apierror.CodeResourceNotFound)
		}, tr, V2)

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v2/cases/1", nil))
		require.Equal(t, http.StatusNotFound, w.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Equal(t, false, body["success"])
		require.Equal(t, "RESOURCE_NOT_FOUND", body["error"].(map[string]any)["code"])
	})

	t.Run("unexpected error for v1 client", func(t *testing.T) {
		h := Wrap(func(r *http.Request) (int, any, error) {
			return 0, nil, errors.New("connection reset")
		}, tr, V2)

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/cases/1", nil))
		require.Equal(t, http.StatusInternalServerError, w.Code)
		require.NotContains(t, w.Body.String(), "connection reset")

		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Equal(t, true, body["error"])
		require.Equal(t, "INTERNAL_ERROR", body["code"])
	})

	t.Run("post processors see native names", func(t *testing.T) {
		h := Wrap(func(r *http.Request) (int, any, error) {
			return http.StatusCreated, caseView{CaseNumber: "C-9"}, nil
		}, tr, V2, func(r *http.Request, payload any) any {
			m := payload.(map[string]any)
			_, native := m["caseNumber"]
			m["native"] = native
			return m
		})

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/cases", nil))
		require.Equal(t, http.StatusCreated, w.Code)
		require.Contains(t, w.Body.String(), `"native":true`)
		require.Contains(t, w.Body.String(), `"case_number":"C-9"`)
	})

	t.Run("post processors skip error envelopes", func(t *testing.T) {
		called := false
		h := Wrap(func(r *http.Request) (int, any, error) {
			return 0, nil, apierror.NewError(http.StatusForbidden, apierror.CodePermissionDenied)
		}, tr, V2, func(r *http.Request, payload any) any {
			called = true
			return payload
		})

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v2/cases", nil))
		require.Equal(t, http.StatusForbidden, w.Code)
		require.Equal(t, "PERMISSION_DENIED", w.Header().Get(apierror.CodeHeader))
		require.False(t, called)
	})

	t.Run("no content", func(t *testing.T) {
		h := Wrap(func(r *http.Request) (int, any, error) {
			return http.StatusNoContent, nil, nil
		}, tr, V2)

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v2/cases/1", nil))
		require.Equal(t, http.StatusNoContent, w.Code)
		require.Empty(t, w.Body.String())
	})
}
