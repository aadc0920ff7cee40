package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestService_RegisterAndLogin(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	req := RegisterRequest{
		Phone:    "+7 701 555-01-11",
		Password: "supersafe",
		FullName: "Aruzhan Buyer",
	}

	ctx := context.Background()
	user, err := svc.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}

	if user.Phone != "+77015550111" {
		t.Fatalf("expected normalized phone, got %q", user.Phone)
	}
	if user.Role != RoleBuyer {
		t.Fatalf("register: expected default role %s got %s", RoleBuyer, user.Role)
	}

	resp, err := svc.Login(ctx, LoginRequest{Phone: req.Phone, Password: req.Password})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login: expected token, got empty string")
	}
	if resp.User.ID != user.ID {
		t.Fatalf("login: expected user id %q got %q", user.ID, resp.User.ID)
	}

	ident, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if ident.UserID != user.ID {
		t.Fatalf("verify token: expected user id %q got %q", user.ID, ident.UserID)
	}
	if ident.Phone != user.Phone {
		t.Fatalf("verify token: expected phone %q got %q", user.Phone, ident.Phone)
	}
	if ident.Role != RoleBuyer {
		t.Fatalf("verify token: expected role %s got %s", RoleBuyer, ident.Role)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	_, err := svc.Register(context.Background(), RegisterRequest{
		Phone:    "+77015550111",
		Password: "short",
		FullName: "Aruzhan Buyer",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	_, err = svc.Register(context.Background(), RegisterRequest{
		Phone:    "not-a-phone",
		Password: "strongpassword",
		FullName: "Aruzhan Buyer",
	})
	if !errors.Is(err, ErrInvalidPhone) {
		t.Fatalf("expected ErrInvalidPhone, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Phone:    "+77015550111",
		Password: "strongpassword",
		FullName: "",
	}); err == nil {
		t.Fatal("expected validation error for missing full name")
	}
}

func TestService_DuplicatePhone(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	req := RegisterRequest{
		Phone:    "+77015550111",
		Password: "strongpassword",
		FullName: "Aruzhan Buyer",
	}
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	if _, err := svc.Register(context.Background(), req); !errors.Is(err, ErrDuplicatePhone) {
		t.Fatalf("expected ErrDuplicatePhone, got %v", err)
	}
}

func TestService_LoginInvalidCredentials(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	_, err := svc.Login(context.Background(), LoginRequest{
		Phone:    "+77010000000",
		Password: "irrelevant",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "+7 (701) 555-0111", want: "+77015550111"},
		{in: "87015550111", want: "87015550111"},
		{in: "123", wantErr: true},
		{in: "+123456789012345678", wantErr: true},
		{in: "phone@example", wantErr: true},
	}

	for _, tt := range tests {
		got, err := NormalizePhone(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("NormalizePhone(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizePhone(%q): unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

type fakeRepository struct {
	usersByPhone map[string]User
	usersByID    map[string]User
	nextID       int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		usersByPhone: make(map[string]User),
		usersByID:    make(map[string]User),
		nextID:       1,
	}
}

func (f *fakeRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	if _, exists := f.usersByPhone[params.Phone]; exists {
		return User{}, ErrDuplicatePhone
	}

	id := fmt.Sprintf("user-%d", f.nextID)
	f.nextID++
	role := params.Role
	if role == "" {
		role = RoleBuyer
	}

	user := User{
		ID:           id,
		Phone:        params.Phone,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	f.usersByPhone[user.Phone] = user
	f.usersByID[user.ID] = user

	return user, nil
}

func (f *fakeRepository) GetUserByPhone(ctx context.Context, phone string) (User, error) {
	user, ok := f.usersByPhone[phone]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (f *fakeRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	user, ok := f.usersByID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}
