package fieldcrypt

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"slices"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/firmguard/internal/apierror"
	"github.com/wolfeidau/firmguard/internal/auth"
	"github.com/wolfeidau/firmguard/internal/models"
	"github.com/wolfeidau/firmguard/internal/reshape"
)

const maxBodyBytes = 1 << 20

// Policy names the encrypted and masked fields of API payloads.
type Policy struct {
	Encrypted []string
	Masks     map[string]Masker
	// Unmasked roles see masked fields in the clear.
	Unmasked []models.Role
}

// DefaultPolicy covers the personal data held on clients.
func DefaultPolicy() Policy {
	return Policy{
		Encrypted: []string{"nationalId", "iban"},
		Masks: map[string]Masker{
			"email":      MaskEmail,
			"phone":      MaskPhone,
			"nationalId": MaskNationalID,
			"iban":       MaskIBAN,
		},
		Unmasked: []models.Role{models.RoleOwner, models.RoleAdmin, models.RoleLawyer},
	}
}

// DecryptRequest decrypts encrypted fields of JSON object bodies before
// they reach the handler. A value with the encryption prefix that fails to
// decrypt is rejected with 400 INVALID_ENCRYPTED_DATA.
func (c *Cipher) DecryptRequest(fields []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || !isJSON(r) {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
			_ = r.Body.Close()
			if err != nil {
				apierror.Write(w, http.StatusBadRequest, apierror.CodeInvalidEncryptedData)
				return
			}
			if len(body) > maxBodyBytes {
				apierror.WriteResponse(w, http.StatusRequestEntityTooLarge,
					apierror.New(apierror.CodeValidation).WithDetails(map[string]any{"field": "body"}))
				return
			}

			var doc map[string]any
			if err := json.Unmarshal(body, &doc); err != nil {
				// not an object, leave validation to the handler
				r.Body = io.NopCloser(bytes.NewReader(body))
				next.ServeHTTP(w, r)
				return
			}

			if err := c.DecryptFields(doc, fields); err != nil {
				zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Rejected request with invalid encrypted field")
				apierror.Write(w, http.StatusBadRequest, apierror.CodeInvalidEncryptedData)
				return
			}

			rewritten, err := json.Marshal(doc)
			if err != nil {
				apierror.Write(w, http.StatusBadRequest, apierror.CodeInvalidEncryptedData)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(rewritten))
			r.ContentLength = int64(len(rewritten))
			next.ServeHTTP(w, r)
		})
	}
}

// ResponseProcessor decrypts stored values and masks sensitive fields for
// roles outside Policy.Unmasked. The stored role cached by the firm filter
// wins over the token claim. It walks nested objects and arrays.
func ResponseProcessor(c *Cipher, p Policy) reshape.PostProcessor {
	encrypted := make(map[string]bool, len(p.Encrypted))
	for _, f := range p.Encrypted {
		encrypted[f] = true
	}

	return func(r *http.Request, payload any) any {
		unmasked := false
		if user := auth.UserFromContext(r.Context()); user != nil {
			unmasked = slices.Contains(p.Unmasked, user.Role)
		} else if principal := auth.PrincipalFromContext(r.Context()); principal != nil {
			unmasked = slices.Contains(p.Unmasked, principal.Role)
		}
		return processValue(c, encrypted, p.Masks, unmasked, payload)
	}
}

func processValue(c *Cipher, encrypted map[string]bool, masks map[string]Masker, unmasked bool, v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			s, isString := child.(string)
			if !isString {
				val[k] = processValue(c, encrypted, masks, unmasked, child)
				continue
			}

			if encrypted[k] && IsEncrypted(s) {
				plain, err := c.Decrypt(k, s)
				if err != nil {
					log.Warn().Err(err).Str("field", k).Msg("Stored field failed to decrypt, masking")
					val[k] = maskAll(s)
					continue
				}
				s = plain
			}

			if mask, ok := masks[k]; ok && !unmasked {
				s = mask(s)
			}
			val[k] = s
		}
		return val
	case []any:
		for i, child := range val {
			val[i] = processValue(c, encrypted, masks, unmasked, child)
		}
		return val
	default:
		return v
	}
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}
