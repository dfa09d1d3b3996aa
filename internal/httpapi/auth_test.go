package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"coffybyte/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func stubWithAdmin() *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      "admin",
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := stubWithAdmin()

	manager := NewAuthManager("test-secret", time.Hour, store)
	_, err := manager.Login(domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].Password == "admin123" {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"ghost": {
				Username:  "ghost",
				Password:  "secret99",
				Role:      "cashier",
				Active:    false,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, store)
	_, err := manager.Login(domain.LoginRequest{
		Username: "ghost",
		Password: "secret99",
	})
	if err == nil {
		t.Fatal("expected login to fail for inactive account")
	}
}

func TestParseTokenRoundTrip(t *testing.T) {
	store := stubWithAdmin()
	manager := NewAuthManager("test-secret", time.Hour, store)

	resp, err := manager.Login(domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.Username != "admin" || actor.Role != "admin" {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	store := stubWithAdmin()
	issuer := NewAuthManager("secret-one", time.Hour, store)
	verifier := NewAuthManager("secret-two", time.Hour, store)

	resp, err := issuer.Login(domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatal("expected token signed with a different secret to be rejected")
	}
	if _, err := verifier.ParseToken("not.a.token"); err == nil {
		t.Fatal("expected garbage token to be rejected")
	}
}

func TestCreateCashierStoresPasswordHash(t *testing.T) {
	store := stubWithAdmin()
	manager := NewAuthManager("test-secret", time.Hour, store)

	cashier, err := manager.CreateCashier(domain.CashierCreateRequest{
		Username: "NewCashier",
		Password: "pass1234",
	})
	if err != nil {
		t.Fatalf("create cashier failed: %v", err)
	}
	if cashier.Username != "newcashier" {
		t.Fatalf("expected lowercased username, got %s", cashier.Username)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	var found *domain.UserAccount
	for i := range users {
		if users[i].Username == "newcashier" {
			found = &users[i]
			break
		}
	}
	if found == nil {
		t.Fatal("expected cashier to be persisted in the user store")
	}
	if !strings.HasPrefix(found.Password, "$2") {
		t.Fatalf("expected bcrypt hash, got %s", found.Password)
	}

	if _, err := manager.Login(domain.LoginRequest{
		Username: "newcashier",
		Password: "pass1234",
	}); err != nil {
		t.Fatalf("new cashier should be able to log in: %v", err)
	}
}

func TestCreateCashierValidation(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, stubWithAdmin())

	cases := []domain.CashierCreateRequest{
		{Username: "ab", Password: "pass1234"},
		{Username: "validname", Password: "short"},
		{Username: "admin", Password: "pass1234"},
	}
	for _, req := range cases {
		if _, err := manager.CreateCashier(req); err == nil {
			t.Fatalf("expected create cashier to fail for %+v", req)
		}
	}
}

func TestListCashiersExcludesAdmins(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, stubWithAdmin())

	if _, err := manager.CreateCashier(domain.CashierCreateRequest{
		Username: "barista",
		Password: "pass1234",
	}); err != nil {
		t.Fatalf("create cashier: %v", err)
	}

	cashiers := manager.ListCashiers()
	if len(cashiers) != 1 || cashiers[0].Username != "barista" {
		t.Fatalf("expected only the cashier account, got %+v", cashiers)
	}
}
