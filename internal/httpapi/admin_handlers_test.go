package httpapi

import (
	"net/http"
	"net/url"
	"strconv"
	"testing"
)

func TestAdminRoutesRequireRoleAdmin(t *testing.T) {
	c := newTestAPI(t)
	nurseToken := c.obtainToken(nurseLogin, testPassword, nurseFacility)

	resp := c.get("/api/admin/users", nil, authHeaderFor(nurseToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for non-admin", resp.StatusCode)
	}

	resp = c.post("/api/admin/facilities", createFacilityRequest{Name: "North Clinic"}, authHeaderFor(nurseToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("facility create status = %d, want 403", resp.StatusCode)
	}
}

func TestAdminUserSearch(t *testing.T) {
	c := newTestAPI(t)
	token := c.obtainToken(adminLogin, testPassword, adminFacility)

	resp := c.get("/api/admin/users", url.Values{"login": {"nurse"}}, authHeaderFor(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	items, ok := body["items"].([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("items = %v, want exactly the nurse account", body["items"])
	}
	first, _ := items[0].(map[string]any)
	if first["login"] != nurseLogin {
		t.Fatalf("unexpected login: %v", first["login"])
	}
	if _, leaked := first["password_hash"]; leaked {
		t.Fatal("password hash must never serialize")
	}
}

func TestAdminUserSearchBadLimit(t *testing.T) {
	c := newTestAPI(t)
	token := c.obtainToken(adminLogin, testPassword, adminFacility)

	resp := c.get("/api/admin/users", url.Values{"limit": {"9999"}}, authHeaderFor(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAdminCreateUser(t *testing.T) {
	c := newTestAPI(t)
	token := c.obtainToken(adminLogin, testPassword, adminFacility)

	resp := c.post("/api/admin/users", createUserRequest{
		Login:     "New.Clerk",
		Email:     "clerk@clinic.example",
		FirstName: "Pat",
		LastName:  "Clerk",
		BirthDate: "1990-04-12",
	}, authHeaderFor(token))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/api/admin/users/new.clerk" {
		t.Fatalf("Location = %q", loc)
	}
	body := decodeBody(t, resp)
	if body["initial_password"] == "" {
		t.Fatal("initial password must be returned once at creation")
	}

	dup := c.post("/api/admin/users", createUserRequest{Login: "new.clerk"}, authHeaderFor(token))
	dup.Body.Close()
	if dup.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate create status = %d, want 409", dup.StatusCode)
	}
}

func TestAdminUserDetailIncludesAuthorities(t *testing.T) {
	c := newTestAPI(t)
	token := c.obtainToken(adminLogin, testPassword, adminFacility)

	resp := c.get("/api/admin/users/"+adminLogin, nil, authHeaderFor(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	authorities, ok := body["authorities"].([]any)
	if !ok || len(authorities) != 2 {
		t.Fatalf("authorities = %v, want the cross-facility set", body["authorities"])
	}
}

func TestAdminActivateUser(t *testing.T) {
	c := newTestAPI(t)
	token := c.obtainToken(adminLogin, testPassword, adminFacility)

	resp := c.do(http.MethodPut, "/api/admin/users/pending-user/activate", activateRequest{Activated: true}, authHeaderFor(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("activate status = %d", resp.StatusCode)
	}

	// The freshly activated account can now authenticate.
	c.obtainToken("pending-user", testPassword, nurseFacility)
}

func TestAdminFacilityAndRoleLifecycle(t *testing.T) {
	c := newTestAPI(t)
	token := c.obtainToken(adminLogin, testPassword, adminFacility)

	created := c.post("/api/admin/facilities", createFacilityRequest{Name: "North Clinic", Type: "clinic"}, authHeaderFor(token))
	if created.StatusCode != http.StatusCreated {
		t.Fatalf("facility create status = %d", created.StatusCode)
	}
	facility := decodeBody(t, created)
	facilityID := int64(facility["id"].(float64))

	roleResp := c.post("/api/admin/facilities/"+strconv.FormatInt(facilityID, 10)+"/roles",
		createRoleRequest{Name: "charge-nurse", Description: "runs the shift"}, authHeaderFor(token))
	if roleResp.StatusCode != http.StatusCreated {
		t.Fatalf("role create status = %d", roleResp.StatusCode)
	}
	role := decodeBody(t, roleResp)
	roleID := int64(role["id"].(float64))

	listResp := c.get("/api/admin/facilities/"+strconv.FormatInt(facilityID, 10)+"/roles", nil, authHeaderFor(token))
	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("role list status = %d", listResp.StatusCode)
	}
	list := decodeBody(t, listResp)
	if items, ok := list["items"].([]any); !ok || len(items) != 1 {
		t.Fatalf("role list = %v", list["items"])
	}

	assign := c.post("/api/admin/users/"+nurseLogin+"/roles", assignRoleRequest{RoleID: roleID}, authHeaderFor(token))
	assign.Body.Close()
	if assign.StatusCode != http.StatusCreated {
		t.Fatalf("assign status = %d", assign.StatusCode)
	}

	remove := c.do(http.MethodDelete,
		"/api/admin/users/"+nurseLogin+"/roles/"+strconv.FormatInt(roleID, 10), nil, authHeaderFor(token))
	remove.Body.Close()
	if remove.StatusCode != http.StatusOK {
		t.Fatalf("remove status = %d", remove.StatusCode)
	}

	again := c.do(http.MethodDelete,
		"/api/admin/users/"+nurseLogin+"/roles/"+strconv.FormatInt(roleID, 10), nil, authHeaderFor(token))
	again.Body.Close()
	if again.StatusCode != http.StatusNotFound {
		t.Fatalf("second remove status = %d, want 404", again.StatusCode)
	}
}
