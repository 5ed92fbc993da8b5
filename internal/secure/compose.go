package secure

import (
	"fmt"

	"github.com/wolfeidau/firmguard/internal/auth"
)

// Stage identifies one check in a composed security pipeline.
type Stage int

const (
	StagePreserveRawBody Stage = iota + 1
	StageWebhookSignature
	StageAuthenticate
	StageFirmFilter
	StageOwnerOnly
	StageAdminOnly
	StagePermission
	StageResourceAccess
)

var stageNames = map[Stage]string{
	StagePreserveRawBody:  "preserveRawBody",
	StageWebhookSignature: "webhookSignature",
	StageAuthenticate:     "authenticate",
	StageFirmFilter:       "firmFilter",
	StageOwnerOnly:        "ownerOnly",
	StageAdminOnly:        "adminOnly",
	StagePermission:       "permission",
	StageResourceAccess:   "resourceAccess",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// DefaultResourceParam is the URL parameter used when only a model is given.
const DefaultResourceParam = "id"

// ResourceAccess names the model and URL parameter identifying the resource
// a route operates on.
type ResourceAccess struct {
	Model string
	Param string
}

// Config declares the checks a route needs. The zero value is an
// authenticated, firm scoped route.
type Config struct {
	// Auth defaults to true. false makes the route public.
	Auth *bool
	// FirmFilter defaults to true for authenticated routes.
	FirmFilter *bool
	OwnerOnly  bool
	AdminOnly  bool
	// Permission is either a "module:level" string or an auth.Permission.
	Permission any
	// Model is shorthand for ResourceAccess{Model: Model, Param: "id"}.
	Model          string
	ResourceAccess *ResourceAccess
	// WebhookAuth names a signature provider. When set every other field is
	// ignored.
	WebhookAuth string
}

// Bool returns a pointer to b, for the optional Config flags.
func Bool(b bool) *bool {
	return &b
}

// Resolved is a Config after defaults and shorthand expansion.
type Resolved struct {
	Auth           bool
	FirmFilter     bool
	OwnerOnly      bool
	AdminOnly      bool
	Permission     *auth.Permission
	ResourceAccess *ResourceAccess
	WebhookAuth    string
}

// Normalize applies defaults and expands shorthands. It returns the resolved
// config along with an error for a permission it cannot interpret; the
// resolved value is still usable with that permission left unset.
func Normalize(cfg Config) (Resolved, error) {
	res := Resolved{
		Auth:        cfg.Auth == nil || *cfg.Auth,
		OwnerOnly:   cfg.OwnerOnly,
		AdminOnly:   cfg.AdminOnly,
		WebhookAuth: cfg.WebhookAuth,
	}
	res.FirmFilter = res.Auth && (cfg.FirmFilter == nil || *cfg.FirmFilter)

	switch {
	case cfg.ResourceAccess != nil:
		ra := *cfg.ResourceAccess
		if ra.Param == "" {
			ra.Param = DefaultResourceParam
		}
		res.ResourceAccess = &ra
	case cfg.Model != "":
		res.ResourceAccess = &ResourceAccess{Model: cfg.Model, Param: DefaultResourceParam}
	}

	var err error
	switch p := cfg.Permission.(type) {
	case nil:
	case string:
		var perm auth.Permission
		perm, err = auth.ParsePermission(p)
		if err == nil {
			res.Permission = &perm
		}
	case auth.Permission:
		res.Permission = &p
	case *auth.Permission:
		if p != nil {
			perm := *p
			res.Permission = &perm
		}
	default:
		err = fmt.Errorf("unsupported permission type %T", cfg.Permission)
	}

	return res, err
}

// Step is one entry of a composed pipeline with its parameters.
type Step struct {
	Stage      Stage
	Provider   string          // StageWebhookSignature
	Permission *auth.Permission // StagePermission, nil if unparseable
	Resource   *ResourceAccess  // StageResourceAccess
}

// Compose returns the ordered checks for cfg. It performs no I/O and always
// returns a result; webhook routes get only body preservation and signature
// validation, and public routes get nothing.
func Compose(cfg Config) []Step {
	res, _ := Normalize(cfg)
	return composeResolved(res, cfg.Permission != nil)
}

func composeResolved(res Resolved, permissionRequested bool) []Step {
	if res.WebhookAuth != "" {
		return []Step{
			{Stage: StagePreserveRawBody},
			{Stage: StageWebhookSignature, Provider: res.WebhookAuth},
		}
	}

	if !res.Auth {
		return []Step{}
	}

	steps := []Step{{Stage: StageAuthenticate}}

	if res.FirmFilter {
		steps = append(steps, Step{Stage: StageFirmFilter})
	}

	switch {
	case res.OwnerOnly:
		steps = append(steps, Step{Stage: StageOwnerOnly})
	case res.AdminOnly:
		steps = append(steps, Step{Stage: StageAdminOnly})
	}

	if res.Permission != nil || permissionRequested {
		steps = append(steps, Step{Stage: StagePermission, Permission: res.Permission})
	}

	if res.ResourceAccess != nil {
		steps = append(steps, Step{Stage: StageResourceAccess, Resource: res.ResourceAccess})
	}

	return steps
}

// Stages returns just the stage identifiers of steps.
func Stages(steps []Step) []Stage {
	out := make([]Stage, len(steps))
	for i, s := range steps {
		out[i] = s.Stage
	}
	return out
}
