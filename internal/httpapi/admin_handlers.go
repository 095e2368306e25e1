package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"asklepios.org/internal/identity"
)

type createUserRequest struct {
	Login       string `json:"login"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	LangKey     string `json:"lang_key"`
	PhoneNumber string `json:"phone_number"`
	BirthDate   string `json:"birth_date"`
	Gender      string `json:"gender"`
}

type createUserResponse struct {
	User identity.Identity `json:"user"`
	// InitialPassword is delivered exactly once, at creation time.
	InitialPassword string `json:"initial_password"`
}

type userSearchResponse struct {
	Items []identity.Identity `json:"items"`
	Total int64               `json:"total"`
}

type assignRoleRequest struct {
	RoleID int64 `json:"role_id"`
}

type activateRequest struct {
	Activated bool `json:"activated"`
}

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createFacilityRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	if err := requireAuthority(r.Context(), identity.RoleAdmin); err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.searchUsers(w, r)
	case http.MethodPost:
		a.createUser(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) searchUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseBoundedInt(q.Get("limit"), 20, 1, 100)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 100")
		return
	}
	offset, err := parseBoundedInt(q.Get("offset"), 0, 0, 1<<30)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	filter := identity.SearchFilter{
		Login:      strings.TrimSpace(q.Get("login")),
		Email:      strings.TrimSpace(q.Get("email")),
		Name:       strings.TrimSpace(q.Get("name")),
		Sort:       strings.TrimSpace(q.Get("sort")),
		Descending: q.Get("order") == "desc",
		Offset:     offset,
		Limit:      limit,
	}

	items, total, err := a.accounts.Search(r.Context(), filter)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	if items == nil {
		items = []identity.Identity{}
	}
	writeJSON(w, http.StatusOK, userSearchResponse{Items: items, Total: total})
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	n := identity.NewIdentity{
		Login:       req.Login,
		Email:       req.Email,
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		LangKey:     strings.TrimSpace(req.LangKey),
		PhoneNumber: strings.TrimSpace(req.PhoneNumber),
		Gender:      strings.TrimSpace(req.Gender),
	}
	if req.BirthDate != "" {
		birth, err := time.Parse("2006-01-02", req.BirthDate)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "birth_date must be YYYY-MM-DD")
			return
		}
		n.BirthDate = &birth
	}

	user, initialPassword, err := a.accounts.CreateIdentity(r.Context(), n)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}

	a.audit(r.Context(), "admin.user.create", map[string]any{"created_login": user.Login})

	w.Header().Set("Location", "/api/admin/users/"+user.Login)
	writeJSON(w, http.StatusCreated, createUserResponse{User: user, InitialPassword: initialPassword})
}

// handleUserResource routes /api/admin/users/{login} and its subresources.
func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	if err := requireAuthority(r.Context(), identity.RoleAdmin); err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/admin/users/")
	if rest == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(rest, "/")
	login := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getUser(w, r, login)
	case len(parts) == 2 && parts[1] == "activate":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.setUserActivated(w, r, login)
	case len(parts) == 2 && parts[1] == "roles":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.assignUserRole(w, r, login)
	case len(parts) == 3 && parts[1] == "roles":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		a.removeUserRole(w, r, login, parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// getUser returns the account plus its authorities across every facility. The
// cross-facility set is for display; authorization always evaluates one
// facility at a time.
func (a *API) getUser(w http.ResponseWriter, r *http.Request, login string) {
	user, err := a.store.FindByLogin(r.Context(), strings.ToLower(login))
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	authorities, err := a.accounts.AuthoritiesByLogin(r.Context(), login)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	user.Authorities = authorities
	writeJSON(w, http.StatusOK, user)
}

func (a *API) setUserActivated(w http.ResponseWriter, r *http.Request, login string) {
	var req activateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.accounts.SetActivated(r.Context(), login, req.Activated); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	a.audit(r.Context(), "admin.user.activate", map[string]any{
		"target_login": strings.ToLower(login),
		"activated":    req.Activated,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) assignUserRole(w http.ResponseWriter, r *http.Request, login string) {
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.store.FindByLogin(r.Context(), strings.ToLower(login))
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	if err := a.accounts.AssignRole(r.Context(), user.ID, req.RoleID); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	a.audit(r.Context(), "admin.user.assign_role", map[string]any{
		"target_login": user.Login,
		"role_id":      req.RoleID,
	})
	writeJSON(w, http.StatusCreated, map[string]any{"status": "ok"})
}

func (a *API) removeUserRole(w http.ResponseWriter, r *http.Request, login, rawRoleID string) {
	roleID, err := strconv.ParseInt(rawRoleID, 10, 64)
	if err != nil || roleID <= 0 {
		writeError(w, r, http.StatusBadRequest, "role id must be a positive integer")
		return
	}
	user, err := a.store.FindByLogin(r.Context(), strings.ToLower(login))
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	if err := a.store.RemoveRole(r.Context(), user.ID, roleID); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	a.audit(r.Context(), "admin.user.remove_role", map[string]any{
		"target_login": user.Login,
		"role_id":      roleID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) handleFacilitiesCollection(w http.ResponseWriter, r *http.Request) {
	if err := requireAuthority(r.Context(), identity.RoleAdmin); err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req createFacilityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}

	facility, err := a.store.CreateFacility(r.Context(), req.Name, strings.TrimSpace(req.Type))
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	a.audit(r.Context(), "admin.facility.create", map[string]any{"facility_name": facility.Name})

	w.Header().Set("Location", "/api/admin/facilities/"+strconv.FormatInt(facility.ID, 10))
	writeJSON(w, http.StatusCreated, facility)
}

// handleFacilityResource routes /api/admin/facilities/{id} and {id}/roles.
func (a *API) handleFacilityResource(w http.ResponseWriter, r *http.Request) {
	if err := requireAuthority(r.Context(), identity.RoleAdmin); err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/admin/facilities/")
	parts := strings.Split(rest, "/")
	facilityID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || facilityID <= 0 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		facility, err := a.store.GetFacility(r.Context(), facilityID)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, facility)
	case len(parts) == 2 && parts[1] == "roles":
		switch r.Method {
		case http.MethodGet:
			roles, err := a.store.RolesByFacility(r.Context(), facilityID)
			if err != nil {
				handleIdentityError(w, r, err)
				return
			}
			if roles == nil {
				roles = []identity.Role{}
			}
			writeJSON(w, http.StatusOK, map[string]any{"items": roles})
		case http.MethodPost:
			a.createFacilityRole(w, r, facilityID)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) createFacilityRole(w http.ResponseWriter, r *http.Request, facilityID int64) {
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}

	role, err := a.store.CreateRole(r.Context(), req.Name, req.Description, facilityID)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	a.audit(r.Context(), "admin.role.create", map[string]any{
		"role_name":   role.Name,
		"facility_id": facilityID,
	})
	writeJSON(w, http.StatusCreated, role)
}

func parseBoundedInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < min || val > max {
		return 0, strconv.ErrRange
	}
	return val, nil
}
