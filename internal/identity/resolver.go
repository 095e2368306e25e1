package identity

import (
	"context"
	"errors"
	"net"
	"net/mail"
	"sort"
	"strings"
)

// Resolver joins a login identifier to exactly one identity with the authority
// set it holds under one facility. The facility filter lives in the store query;
// the resolver owns login classification and join-result folding.
type Resolver struct {
	store Store
}

// NewResolver constructs a Resolver over the given credential store.
func NewResolver(store Store) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("identity: store is required")
	}
	return &Resolver{store: store}, nil
}

// Resolve fetches the identity for (login, facilityID). The login is treated as
// an email address when it parses as one, otherwise as a lower-cased username.
// Zero joined rows fold to ErrNotFound; a deactivated identity resolves to
// ErrNotActivated so callers can disclose the distinction where that is intended.
func (r *Resolver) Resolve(ctx context.Context, login string, facilityID int64) (Identity, error) {
	login = strings.TrimSpace(login)
	if login == "" || facilityID <= 0 {
		return Identity{}, ErrInvalidInput
	}

	var (
		rows []JoinedRow
		err  error
	)
	if isEmail(login) {
		rows, err = r.store.RowsByEmailAndFacility(ctx, strings.ToLower(login), facilityID)
	} else {
		rows, err = r.store.RowsByLoginAndFacility(ctx, strings.ToLower(login), facilityID)
	}
	if err != nil {
		return Identity{}, classifyStoreError(err)
	}
	if len(rows) == 0 {
		return Identity{}, ErrNotFound
	}

	ident := foldRows(rows)
	if !ident.Activated {
		return Identity{}, ErrNotActivated
	}
	return ident, nil
}

// foldRows collapses one-row-per-authority join output into a single identity.
// Rows with a null authority (a role that grants nothing) contribute no
// authority name, but still surface the identity itself.
func foldRows(rows []JoinedRow) Identity {
	ident := rows[0].Identity
	seen := make(map[string]struct{}, len(rows))
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		if !row.HasAuthority {
			continue
		}
		name := strings.TrimSpace(row.AuthorityName)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	ident.Authorities = names
	return ident
}

// isEmail performs a syntactic check only, no network lookup.
func isEmail(login string) bool {
	if !strings.Contains(login, "@") {
		return false
	}
	addr, err := mail.ParseAddress(login)
	if err != nil {
		return false
	}
	// mail.ParseAddress accepts display names; require the bare address form.
	return addr.Address == login
}

// classifyStoreError maps driver-level failures onto the resolver taxonomy.
// Deadline and connectivity errors are retryable; they must never be mistaken
// for a credential failure.
func classifyStoreError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return errors.Join(ErrStoreUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return err
}
