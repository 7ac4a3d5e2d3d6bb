package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kazu-2020/bento-manager-sub000/internal/domain"
)

type employeeStoreStub struct {
	mu        sync.Mutex
	employees map[string]domain.Employee
	updates   int
}

func (s *employeeStoreStub) CreateEmployee(_ context.Context, employee domain.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.employees == nil {
		s.employees = make(map[string]domain.Employee)
	}
	s.employees[employee.Username] = employee
	return nil
}

func (s *employeeStoreStub) ListEmployees(_ context.Context) ([]domain.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Employee, 0, len(s.employees))
	for _, employee := range s.employees {
		out = append(out, employee)
	}
	return out, nil
}

func (s *employeeStoreStub) UpdateEmployeePassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	employee := s.employees[username]
	employee.Password = password
	s.employees[username] = employee
	s.updates++
	return nil
}

func seededStub() *employeeStoreStub {
	return &employeeStoreStub{
		employees: map[string]domain.Employee{
			"manager": {
				ID:        "emp-manager",
				Username:  "manager",
				Password:  "manager123",
				Role:      domain.RoleManager,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := seededStub()

	manager := NewAuthManager("test-secret", time.Hour, "123456", store)
	_, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "manager",
		Password: "manager123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	employees, err := store.ListEmployees(context.Background())
	if err != nil {
		t.Fatalf("list employees failed: %v", err)
	}
	if len(employees) != 1 {
		t.Fatalf("expected 1 employee, got %d", len(employees))
	}
	if employees[0].Password == "manager123" {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if !strings.HasPrefix(employees[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", employees[0].Password)
	}
}

func TestTokenCarriesEmployeeIdentity(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "123456", seededStub())
	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: " Manager ", Password: "manager123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.EmployeeID != "emp-manager" || actor.Username != "manager" || actor.Role != domain.RoleManager {
		t.Fatalf("unexpected actor %+v", actor)
	}

	other := NewAuthManager("other-secret", time.Hour, "123456", seededStub())
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestCreateEmployeeStoresPasswordHash(t *testing.T) {
	store := seededStub()

	manager := NewAuthManager("test-secret", time.Hour, "123456", store)
	employee, err := manager.CreateEmployee(context.Background(), domain.EmployeeCreateRequest{
		Username: "hanako",
		Password: "pass1234",
	})
	if err != nil {
		t.Fatalf("create employee failed: %v", err)
	}
	if employee.Username != "hanako" || employee.Role != domain.RoleStaff {
		t.Fatalf("unexpected employee %+v", employee)
	}
	if !strings.HasPrefix(employee.ID, "emp-") {
		t.Fatalf("expected generated employee id, got %s", employee.ID)
	}

	employees, err := store.ListEmployees(context.Background())
	if err != nil {
		t.Fatalf("list employees failed: %v", err)
	}
	var found *domain.Employee
	for i := range employees {
		if employees[i].Username == "hanako" {
			found = &employees[i]
			break
		}
	}
	if found == nil {
		t.Fatalf("expected employee to be saved")
	}
	if found.Password == "pass1234" {
		t.Fatalf("expected employee password to be hashed")
	}
	if !strings.HasPrefix(found.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", found.Password)
	}

	if _, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "hanako",
		Password: "pass1234",
	}); err != nil {
		t.Fatalf("login with hashed employee failed: %v", err)
	}

	if _, err := manager.CreateEmployee(context.Background(), domain.EmployeeCreateRequest{
		Username: "hanako",
		Password: "pass1234",
	}); err == nil {
		t.Fatalf("expected duplicate username to be rejected")
	}
	if _, err := manager.CreateEmployee(context.Background(), domain.EmployeeCreateRequest{
		Username: "taro",
		Password: "pass1234",
		Role:     "owner",
	}); err == nil {
		t.Fatalf("expected unknown role to be rejected")
	}
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	store := &employeeStoreStub{employees: map[string]domain.Employee{}}
	manager := NewAuthManager("test-secret", time.Hour, "654321", store)

	if manager.managerPIN == "654321" {
		t.Fatalf("expected manager pin to be stored as hash, got plain-text")
	}

	if !manager.ValidateManagerPIN("654321") {
		t.Fatalf("expected manager pin validation to succeed")
	}

	if manager.ValidateManagerPIN("111111") {
		t.Fatalf("expected wrong manager pin to fail")
	}
}
