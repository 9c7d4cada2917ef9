package cohort

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Chefmattrock/agent-quality-analyzer/internal/database"
)

// MembershipSource resolves a membership list to builder identifiers.
type MembershipSource interface {
	ListMembers(ctx context.Context, listID string) ([]database.GrantMember, error)
}

// FileMembership reads members from a CSV export with email and
// platform_user_token columns. user_token and builder_id are accepted as
// the token column.
type FileMembership struct {
	Path string
}

// ListMembers implements MembershipSource. listID is stamped on each row.
func (f FileMembership) ListMembers(_ context.Context, listID string) ([]database.GrantMember, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("opening members file: %w", err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading members header: %w", err)
	}
	emailCol, tokenCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))) {
		case "email":
			emailCol = i
		case "platform_user_token", "user_token", "builder_id":
			tokenCol = i
		}
	}
	if tokenCol < 0 {
		return nil, fmt.Errorf("members file %s: no platform_user_token column", f.Path)
	}

	var members []database.GrantMember
	seen := make(map[string]bool)
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading members file: %w", err)
		}
		token := field(rec, tokenCol)
		if token == "" || seen[token] {
			continue
		}
		seen[token] = true
		members = append(members, database.GrantMember{
			ListID:    listID,
			Email:     strings.ToLower(field(rec, emailCol)),
			BuilderID: token,
		})
	}
	return members, nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
