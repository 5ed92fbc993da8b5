package commands

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/firmguard/internal/auth"
	"github.com/wolfeidau/firmguard/internal/models"
)

// Demo identities, stable across restarts so tokens issued by the demo
// login keep resolving.
var (
	demoFirmID      = uuid.MustParse("0b1e7c3a-5d2f-4f6a-9c1b-2a7e4d8f6c10")
	demoOtherFirmID = uuid.MustParse("5e9a2b41-7c3d-4e8f-a1b2-c3d4e5f60718")
)

// demoPassword signs in every seeded account.
const demoPassword = "firmguard-demo"

type demoUser struct {
	email    string
	name     string
	role     models.Role
	firm     *uuid.UUID
	verified bool
}

// seedDemo fills the memory stores with two firms, their members and a few
// cases and clients.
func seedDemo(ctx context.Context, deps *routerDeps) error {
	log := zerolog.Ctx(ctx)
	now := time.Now().UTC()
	firm, other := demoFirmID, demoOtherFirmID

	users := []demoUser{
		{"owner@demo.law", "Huda Owner", models.RoleOwner, &firm, true},
		{"lawyer@demo.law", "Omar Lawyer", models.RoleLawyer, &firm, true},
		{"paralegal@demo.law", "Sara Paralegal", models.RoleParalegal, &firm, false},
		{"accountant@demo.law", "Ali Accountant", models.RoleAccountant, &firm, true},
		{"newcomer@demo.law", "Nour Newcomer", models.RoleLawyer, nil, true},
		{"rival@other.law", "Rami Rival", models.RoleOwner, &other, true},
	}
	passwordHash, err := auth.HashPassword(demoPassword, 0)
	if err != nil {
		return fmt.Errorf("failed to hash demo password: %w", err)
	}

	for _, u := range users {
		err = deps.Stores.Users.CreateUser(ctx, &models.User{
			UserID:          uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+u.email)),
			FirmID:          u.firm,
			Role:            u.role,
			Email:           u.email,
			Name:            u.name,
			IsEmailVerified: u.verified,
			PasswordHash:    passwordHash,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", u.email, err)
		}
	}

	for i, title := range []string{"Al-Rashid v. Gulf Trading", "Estate of K. Mansour", "Harbor Lease Dispute"} {
		opened := now.Add(-time.Duration(30*(i+1)) * 24 * time.Hour)
		deps.Stores.Records.putCase(caseRecord{
			ID:         uuid.New(),
			FirmID:     firm,
			CaseNumber: fmt.Sprintf("C-%04d", 101+i),
			Title:      title,
			Status:     "open",
			OpenedAt:   opened,
			CreatedAt:  opened,
		})
	}
	deps.Stores.Records.putCase(caseRecord{
		ID:         uuid.New(),
		FirmID:     other,
		CaseNumber: "C-9001",
		Title:      "Confidential Merger Review",
		Status:     "open",
		OpenedAt:   now,
		CreatedAt:  now,
	})

	client := map[string]any{
		"nationalId": "784198712345671",
		"iban":       "AE070331234567890123456",
	}
	if err := deps.Cipher.EncryptFields(client, deps.FieldPolicy.Encrypted); err != nil {
		return fmt.Errorf("failed to encrypt demo client: %w", err)
	}
	deps.Stores.Records.putClient(clientRecord{
		ID:         uuid.New(),
		FirmID:     firm,
		Name:       "Gulf Trading LLC",
		Email:      "legal@gulftrading.example",
		Phone:      "+971501234567",
		NationalID: client["nationalId"].(string),
		IBAN:       client["iban"].(string),
		CreatedAt:  now,
	})

	// the rival firm only accepts connections from its office network
	if err := deps.Stores.AllowLists.AddAllowedNetwork(ctx, &models.AllowedNetwork{
		FirmID:      other,
		Prefix:      netip.MustParsePrefix("198.51.100.0/24"),
		Description: "head office",
		CreatedAt:   now,
	}); err != nil {
		return fmt.Errorf("failed to seed allow list: %w", err)
	}
	if restrictable, ok := deps.Stores.AllowLists.(interface{ SetRestriction(uuid.UUID, bool) }); ok {
		restrictable.SetRestriction(other, true)
	}

	log.Info().Int("users", len(users)).Msg("Seeded demo data")
	return nil
}
