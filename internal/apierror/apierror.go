// Package apierror defines the stable error codes returned by the security
// middleware and writes them as bilingual JSON envelopes.
package apierror

import (
	"encoding/json"
	"net/http"
)

// Code is a stable, machine readable error identifier.
type Code string

const (
	CodeAuthRequired             Code = "AUTH_REQUIRED"
	CodeInvalidCredentials       Code = "INVALID_CREDENTIALS"
	CodeTokenExpired             Code = "TOKEN_EXPIRED"
	CodeTokenInvalid             Code = "TOKEN_INVALID"
	CodeSessionIdleTimeout       Code = "SESSION_IDLE_TIMEOUT"
	CodeSessionAbsoluteTimeout   Code = "SESSION_ABSOLUTE_TIMEOUT"
	CodeReauthenticationRequired Code = "REAUTHENTICATION_REQUIRED"
	CodeEmailVerificationNeeded  Code = "EMAIL_VERIFICATION_REQUIRED"
	CodeIPNotWhitelisted         Code = "IP_NOT_WHITELISTED"
	CodeEndpointGone             Code = "ENDPOINT_GONE"
	CodeEndpointMoved            Code = "ENDPOINT_MOVED"
	CodeInvalidEncryptedData     Code = "INVALID_ENCRYPTED_DATA"
	CodeSanitizationBlocked      Code = "SANITIZATION_BLOCKED"

	CodeFirmRequired            Code = "FIRM_REQUIRED"
	CodeOwnerRequired           Code = "OWNER_REQUIRED"
	CodeAdminRequired           Code = "ADMIN_REQUIRED"
	CodePermissionDenied        Code = "PERMISSION_DENIED"
	CodeResourceNotFound        Code = "RESOURCE_NOT_FOUND"
	CodeResourceAccessDenied    Code = "RESOURCE_ACCESS_DENIED"
	CodeWebhookSignatureInvalid Code = "WEBHOOK_SIGNATURE_INVALID"
	CodeValidation              Code = "VALIDATION_ERROR"
	CodeInternal                Code = "INTERNAL_ERROR"
)

type message struct {
	en string
	ar string
}

var catalog = map[Code]message{
	CodeAuthRequired:             {"Authentication required", "المصادقة مطلوبة"},
	CodeInvalidCredentials:       {"Invalid email or password", "البريد الإلكتروني أو كلمة المرور غير صحيحة"},
	CodeTokenExpired:             {"Token has expired", "انتهت صلاحية الرمز"},
	CodeTokenInvalid:             {"Invalid token", "رمز غير صالح"},
	CodeSessionIdleTimeout:       {"Session expired due to inactivity", "انتهت الجلسة بسبب عدم النشاط"},
	CodeSessionAbsoluteTimeout:   {"Session has expired, please log in again", "انتهت الجلسة، يرجى تسجيل الدخول مرة أخرى"},
	CodeReauthenticationRequired: {"Please re-enter your password to continue", "يرجى إعادة إدخال كلمة المرور للمتابعة"},
	CodeEmailVerificationNeeded:  {"Please verify your email address to access this feature", "يرجى تأكيد بريدك الإلكتروني للوصول إلى هذه الميزة"},
	CodeIPNotWhitelisted:         {"Access denied from this IP address", "تم رفض الوصول من عنوان IP هذا"},
	CodeEndpointGone:             {"This endpoint is no longer available", "نقطة النهاية هذه لم تعد متاحة"},
	CodeEndpointMoved:            {"This endpoint has moved", "تم نقل نقطة النهاية هذه"},
	CodeInvalidEncryptedData:     {"Invalid encrypted data", "بيانات مشفرة غير صالحة"},
	CodeSanitizationBlocked:      {"Request contains forbidden input", "يحتوي الطلب على مدخلات محظورة"},
	CodeFirmRequired:             {"You must belong to a firm to access this resource", "يجب أن تنتمي إلى مكتب للوصول إلى هذا المورد"},
	CodeOwnerRequired:            {"Only the firm owner can perform this action", "فقط مالك المكتب يمكنه تنفيذ هذا الإجراء"},
	CodeAdminRequired:            {"Administrator access required", "مطلوب صلاحيات المسؤول"},
	CodePermissionDenied:         {"You do not have permission to perform this action", "ليس لديك صلاحية لتنفيذ هذا الإجراء"},
	CodeResourceNotFound:         {"Resource not found", "المورد غير موجود"},
	CodeResourceAccessDenied:     {"You do not have access to this resource", "ليس لديك حق الوصول إلى هذا المورد"},
	CodeWebhookSignatureInvalid:  {"Invalid webhook signature", "توقيع webhook غير صالح"},
	CodeValidation:               {"The request is invalid", "الطلب غير صالح"},
	CodeInternal:                 {"An internal error occurred", "حدث خطأ داخلي"},
}

// CodeHeader repeats the error code so response observers need not parse
// the body.
const CodeHeader = "X-Error-Code"

// Response is the error envelope written to clients.
type Response struct {
	Error     bool           `json:"error"`
	Code      Code           `json:"code"`
	Message   string         `json:"message"`
	MessageAr string         `json:"messageAr,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// New builds the envelope for code using the message catalog.
func New(code Code) Response {
	m, ok := catalog[code]
	if !ok {
		m = catalog[CodeInternal]
	}
	return Response{
		Error:     true,
		Code:      code,
		Message:   m.en,
		MessageAr: m.ar,
	}
}

// WithDetails returns a copy of the envelope carrying extra fields.
func (r Response) WithDetails(details map[string]any) Response {
	r.Details = details
	return r
}

// Message returns the English and Arabic messages for code.
func Message(code Code) (en, ar string) {
	m := catalog[code]
	return m.en, m.ar
}

// Write sends the envelope for code with the given HTTP status.
func Write(w http.ResponseWriter, status int, code Code) {
	WriteResponse(w, status, New(code))
}

// WriteResponse sends a prepared envelope with the given HTTP status.
func WriteResponse(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set(CodeHeader, string(resp.Code))
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// Error carries an envelope and status through an error return.
type Error struct {
	Status   int
	Response Response
}

// NewError creates an Error for code.
func NewError(status int, code Code) *Error {
	return &Error{Status: status, Response: New(code)}
}

func (e *Error) Error() string {
	return string(e.Response.Code) + ": " + e.Response.Message
}
