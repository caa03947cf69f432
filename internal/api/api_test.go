package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/zaloga/internal/auth"
	"github.com/erazemk/zaloga/internal/db"
	"github.com/erazemk/zaloga/internal/ledger"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/store"
	"github.com/erazemk/zaloga/internal/transfer"
)

const testJWTSecret = "test-secret"

type testServer struct {
	*httptest.Server
	db     *db.DB
	tokens *auth.Tokens
}

type levelResponse struct {
	VariantID  int64 `json:"variant_id"`
	LocationID int64 `json:"location_id"`
	OnHand     int   `json:"on_hand"`
	Committed  int   `json:"committed"`
	Available  int   `json:"available"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Kind       string `json:"kind"`
	VariantID  int64  `json:"variant_id"`
	LocationID int64  `json:"location_id"`
	Requested  int    `json:"requested"`
	Available  *int   `json:"available"`
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	database := db.NewTestDB(t)
	l := ledger.New(database)
	tokens := auth.NewTokens(testJWTSecret, time.Hour)

	router := NewRouter(Deps{
		DB:     database,
		Ledger: l,
		Engine: transfer.NewEngine(l, nil, nil),
		Tokens: tokens,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &testServer{Server: server, db: database, tokens: tokens}
}

// login creates a user with the given role and returns a token for it.
func (s *testServer) login(t *testing.T, username, role string) string {
	t.Helper()
	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	if _, err := store.CreateUser(context.Background(), s.db, username, string(hash), role); err != nil {
		t.Fatalf("creating user: %v", err)
	}

	body, _ := json.Marshal(map[string]string{"username": username, "password": "password"})
	resp, err := http.Post(s.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed: %d", resp.StatusCode)
	}

	var loginResp loginResponse
	json.NewDecoder(resp.Body).Decode(&loginResp)
	if loginResp.Token == "" {
		t.Fatal("empty token from login")
	}
	return loginResp.Token
}

// do sends an authenticated request and decodes the response into out when
// out is not nil.
func (s *testServer) do(t *testing.T, method, path, token string, body any, out any, headers ...string) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestLoginEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.login(t, "admin", model.RoleAdmin)

	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrong"})
	resp, err := http.Post(s.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad password, got %d", resp.StatusCode)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "admin", model.RoleAdmin)

	if code := s.do(t, "GET", "/api/locations", token, nil, nil); code != http.StatusOK {
		t.Fatalf("expected 200 before logout, got %d", code)
	}
	if code := s.do(t, "POST", "/api/auth/logout", token, nil, nil); code != http.StatusOK {
		t.Fatalf("expected 200 from logout, got %d", code)
	}
	if code := s.do(t, "GET", "/api/locations", token, nil, nil); code != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", code)
	}
}

func TestChangePassword(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "admin", model.RoleAdmin)

	code := s.do(t, "PUT", "/api/auth/password", token, map[string]string{
		"current_password": "wrong", "new_password": "new-password",
	}, nil)
	if code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong current password, got %d", code)
	}

	code = s.do(t, "PUT", "/api/auth/password", token, map[string]string{
		"current_password": "password", "new_password": "new-password",
	}, nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestUnauthenticatedAccess(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.URL + "/api/inventory")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for unauthenticated request, got %d", resp.StatusCode)
	}
}

func TestRoleBasedAccess(t *testing.T) {
	s := newTestServer(t)
	staff := s.login(t, "staff1", model.RoleStaff)

	code := s.do(t, "POST", "/api/locations", staff, map[string]any{"name": "Back room"}, nil)
	if code != http.StatusForbidden {
		t.Errorf("expected 403 for staff creating a location, got %d", code)
	}

	code = s.do(t, "GET", "/api/users", staff, nil, nil)
	if code != http.StatusForbidden {
		t.Errorf("expected 403 for staff listing users, got %d", code)
	}

	code = s.do(t, "GET", "/api/locations", staff, nil, nil)
	if code != http.StatusOK {
		t.Errorf("expected 200 for staff listing locations, got %d", code)
	}
}

func TestUsersAPI(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "admin", model.RoleAdmin)

	var created model.User
	code := s.do(t, "POST", "/api/users", token, map[string]string{
		"username": "mojca", "password": "password1", "role": model.RoleManager,
	}, &created)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}

	code = s.do(t, "POST", "/api/users", token, map[string]string{
		"username": "mojca", "password": "password1", "role": model.RoleManager,
	}, nil)
	if code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate username, got %d", code)
	}

	code = s.do(t, "PUT", "/api/users/999", token, map[string]string{"role": model.RoleStaff}, nil)
	if code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown user, got %d", code)
	}

	var me *auth.Claims
	me, _ = s.tokens.Validate(token)
	code = s.do(t, "DELETE", "/api/users/"+itoa(me.UserID), token, nil, nil)
	if code != http.StatusBadRequest {
		t.Errorf("expected 400 for self-deletion, got %d", code)
	}

	code = s.do(t, "DELETE", "/api/users/"+itoa(created.ID), token, nil, nil)
	if code != http.StatusOK {
		t.Errorf("expected 200 deleting user, got %d", code)
	}
}

func TestInventoryDefaultLocationFallback(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "admin", model.RoleAdmin)

	code := s.do(t, "POST", "/api/inventory/adjust", token, map[string]any{"variant_id": 1, "on_hand": 5}, nil)
	if code != http.StatusBadRequest {
		t.Errorf("expected 400 without any location, got %d", code)
	}

	var loc model.Location
	if code := s.do(t, "POST", "/api/locations", token, map[string]any{"name": "Warehouse"}, &loc); code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	if !loc.IsDefault {
		t.Fatal("expected first location to be the default")
	}

	var lvl levelResponse
	code = s.do(t, "POST", "/api/inventory/adjust", token, map[string]any{"variant_id": 1, "on_hand": 12}, &lvl)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if lvl.LocationID != loc.ID || lvl.OnHand != 12 || lvl.Available != 12 {
		t.Errorf("unexpected level %+v", lvl)
	}

	code = s.do(t, "POST", "/api/inventory/set", token, map[string]any{"variant_id": 1, "on_hand": 7}, &lvl)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if lvl.OnHand != 7 {
		t.Errorf("expected on_hand 7 after set, got %d", lvl.OnHand)
	}

	var movements []model.Movement
	s.do(t, "GET", "/api/inventory/movements?variant_id=1", token, nil, &movements)
	if len(movements) != 2 || movements[0].Reason != model.ReasonSet || movements[0].Delta.OnHand != -5 {
		t.Errorf("unexpected movements %+v", movements)
	}
}

func TestInventoryInvariantViolation(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "admin", model.RoleAdmin)

	var loc model.Location
	s.do(t, "POST", "/api/locations", token, map[string]any{"name": "Shop"}, &loc)
	s.do(t, "POST", "/api/inventory/adjust", token, map[string]any{"variant_id": 3, "location_id": loc.ID, "on_hand": 4}, nil)

	var errResp errorResponse
	code := s.do(t, "POST", "/api/inventory/adjust", token,
		map[string]any{"variant_id": 3, "location_id": loc.ID, "on_hand": -10}, &errResp)
	if code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", code)
	}
	if errResp.Kind != "InvariantViolation" || errResp.VariantID != 3 || errResp.LocationID != loc.ID {
		t.Errorf("unexpected error body %+v", errResp)
	}
	if errResp.Available == nil || *errResp.Available != 4 || errResp.Requested != 10 {
		t.Errorf("expected requested 10 and available 4, got %+v", errResp)
	}

	code = s.do(t, "POST", "/api/inventory/adjust", token,
		map[string]any{"variant_id": 3, "location_id": loc.ID}, &errResp)
	if code != http.StatusBadRequest || errResp.Kind != "ValidationError" {
		t.Errorf("expected 400 ValidationError for empty delta, got %d %+v", code, errResp)
	}
}

func TestTransferAPIFlow(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "admin", model.RoleAdmin)

	var from, to model.Location
	s.do(t, "POST", "/api/locations", token, map[string]any{"name": "Warehouse", "is_fulfillment_center": true}, &from)
	s.do(t, "POST", "/api/locations", token, map[string]any{"name": "Shop", "is_pickup_location": true}, &to)
	s.do(t, "POST", "/api/inventory/adjust", token, map[string]any{"variant_id": 1, "location_id": from.ID, "on_hand": 100}, nil)

	create := map[string]any{
		"from_location_id": from.ID,
		"to_location_id":   to.ID,
		"reason":           "restock",
		"items":            []map[string]any{{"variant_id": 1, "quantity": 20}},
	}
	const key = "0d5bb0f6-4f4e-4d39-8f1b-7b0a3c2b9e10"

	var tr model.Transfer
	code := s.do(t, "POST", "/api/transfers", token, create, &tr, IdempotencyKeyHeader, key)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	if tr.Status != model.TransferPending || tr.FromLocationName != "Warehouse" {
		t.Errorf("unexpected transfer %+v", tr)
	}

	var replay model.Transfer
	s.do(t, "POST", "/api/transfers", token, create, &replay, IdempotencyKeyHeader, key)
	if replay.ID != tr.ID {
		t.Errorf("expected replay to return transfer %d, got %d", tr.ID, replay.ID)
	}

	id := itoa(tr.ID)
	if code := s.do(t, "POST", "/api/transfers/"+id+"/ship", token, nil, &tr); code != http.StatusOK {
		t.Fatalf("expected 200 shipping, got %d", code)
	}

	var errResp errorResponse
	if code := s.do(t, "POST", "/api/transfers/"+id+"/ship", token, nil, &errResp); code != http.StatusConflict {
		t.Errorf("expected 409 shipping twice, got %d", code)
	}
	if errResp.Kind != "InvalidTransition" {
		t.Errorf("expected InvalidTransition, got %q", errResp.Kind)
	}

	receive := map[string]any{"items": []map[string]any{{"variant_id": 1, "quantity": 18}}}
	if code := s.do(t, "POST", "/api/transfers/"+id+"/receive", token, receive, &tr); code != http.StatusOK {
		t.Fatalf("expected 200 receiving, got %d", code)
	}
	if tr.Status != model.TransferCompleted {
		t.Errorf("expected completed, got %s", tr.Status)
	}

	var shortfalls []model.Shortfall
	s.do(t, "GET", "/api/transfers/shortfalls", token, nil, &shortfalls)
	if len(shortfalls) != 1 || shortfalls[0].Missing != 2 {
		t.Errorf("expected one shortfall of 2, got %+v", shortfalls)
	}

	var history []model.TransferEvent
	s.do(t, "GET", "/api/transfers/"+id+"/history", token, nil, &history)
	if len(history) != 3 || history[2].Actor != "admin" {
		t.Errorf("unexpected history %+v", history)
	}

	var levels []levelResponse
	s.do(t, "GET", "/api/locations/"+itoa(to.ID)+"/inventory", token, nil, &levels)
	if len(levels) != 1 || levels[0].OnHand != 18 {
		t.Errorf("unexpected destination inventory %+v", levels)
	}

	if code := s.do(t, "GET", "/api/transfers/999", token, nil, nil); code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown transfer, got %d", code)
	}
}

func TestTransferRejectsBadIdempotencyKey(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "admin", model.RoleAdmin)

	code := s.do(t, "POST", "/api/transfers", token, map[string]any{
		"from_location_id": 1, "to_location_id": 2,
		"items": []map[string]any{{"variant_id": 1, "quantity": 1}},
	}, nil, IdempotencyKeyHeader, "not-a-uuid")
	if code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestLocationDeleteGuard(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "admin", model.RoleAdmin)

	var loc model.Location
	s.do(t, "POST", "/api/locations", token, map[string]any{"name": "Kiosk"}, &loc)
	s.do(t, "POST", "/api/inventory/adjust", token, map[string]any{"variant_id": 1, "location_id": loc.ID, "on_hand": 1}, nil)

	path := "/api/locations/" + itoa(loc.ID)
	if code := s.do(t, "DELETE", path, token, nil, nil); code != http.StatusConflict {
		t.Errorf("expected 409 deleting a stocked location, got %d", code)
	}

	s.do(t, "POST", "/api/inventory/set", token, map[string]any{"variant_id": 1, "location_id": loc.ID, "on_hand": 0}, nil)
	if code := s.do(t, "DELETE", path, token, nil, nil); code != http.StatusOK {
		t.Errorf("expected 200 deleting an empty location, got %d", code)
	}
	if code := s.do(t, "GET", path, token, nil, nil); code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", code)
	}
}

func TestVariantStockSummary(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "admin", model.RoleAdmin)

	var v model.Variant
	code := s.do(t, "POST", "/api/variants", token, map[string]any{
		"product_id": 10, "sku": "TEE-M-BLK", "price": "19.90", "cost": "7.50",
	}, &v)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}

	code = s.do(t, "POST", "/api/variants", token, map[string]any{"product_id": 10, "sku": "TEE-M-BLK"}, nil)
	if code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate sku, got %d", code)
	}

	var a, b model.Location
	s.do(t, "POST", "/api/locations", token, map[string]any{"name": "A"}, &a)
	s.do(t, "POST", "/api/locations", token, map[string]any{"name": "B"}, &b)
	s.do(t, "POST", "/api/inventory/adjust", token, map[string]any{"variant_id": v.ID, "location_id": a.ID, "on_hand": 4}, nil)
	s.do(t, "POST", "/api/inventory/adjust", token, map[string]any{"variant_id": v.ID, "location_id": b.ID, "on_hand": 6}, nil)

	var summary model.StockSummary
	if code := s.do(t, "GET", "/api/variants/"+itoa(v.ID)+"/stock", token, nil, &summary); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if summary.OnHand != 10 || summary.Available != 10 || len(summary.Levels) != 2 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if summary.Value.String() != "75" {
		t.Errorf("expected value 75, got %s", summary.Value)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
