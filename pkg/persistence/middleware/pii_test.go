package middleware_test

import (
	"testing"

	"github.com/aretw0/bpmn/pkg/adapters/memory"
	"github.com/aretw0/bpmn/pkg/persistence/middleware"
)

func TestPIIMiddleware_Masking(t *testing.T) {
	// Setup
	underlyingStore := memory.NewStore()
	// Mask keys containing "password" or "ssn"
	mw, err := middleware.NewPIIMiddleware([]string{"password", "ssn"})
	if err != nil {
		t.Fatal(err)
	}
	secureStore := mw(underlyingStore)

	inst := newInstance("p1", map[string]any{
		"username":      "jdoe",
		"user_password": "secret123",
		"details": map[string]any{
			"address":    "123 St",
			"ssn_number": "999-99-9999",
		},
	})

	// 1. Save goes through unchanged
	save(t, secureStore, inst)
	stored, err := load(underlyingStore, "p1")
	if err != nil {
		t.Fatalf("Underlying load failed: %v", err)
	}
	if stored.Variables["p1"]["user_password"] != "secret123" {
		t.Error("Update must store real values")
	}

	// 2. View masks
	viewed, err := load(secureStore, "p1")
	if err != nil {
		t.Fatalf("Load via middleware failed: %v", err)
	}
	vars := viewed.Variables["p1"]
	if vars["username"] != "jdoe" {
		t.Error("Username shouldn't be masked")
	}
	if vars["user_password"] != middleware.Mask {
		t.Errorf("Password should be masked, got: %v", vars["user_password"])
	}
	details := vars["details"].(map[string]any)
	if details["ssn_number"] != middleware.Mask {
		t.Errorf("Nested SSN should be masked, got: %v", details["ssn_number"])
	}
	if details["address"] != "123 St" {
		t.Errorf("Address shouldn't be masked, got: %v", details["address"])
	}

	// 3. Masking never leaks back into the stored instance
	stored, _ = load(underlyingStore, "p1")
	nested := stored.Variables["p1"]["details"].(map[string]any)
	if nested["ssn_number"] != "999-99-9999" {
		t.Error("Middleware modified the stored nested map")
	}
}

func TestPIIMiddleware_InvalidPattern(t *testing.T) {
	if _, err := middleware.NewPIIMiddleware([]string{"("}); err == nil {
		t.Error("Expected error for invalid pattern")
	}
}

func TestChain_Order(t *testing.T) {
	pii, err := middleware.NewPIIMiddleware([]string{"secret"})
	if err != nil {
		t.Fatal(err)
	}
	enc := encryption(t, middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	store := middleware.Chain(memory.NewStore(), pii, enc)

	save(t, store, newInstance("p1", map[string]any{"secret": "x", "open": "y"}))
	viewed, err := load(store, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if viewed.Variables["p1"]["secret"] != middleware.Mask || viewed.Variables["p1"]["open"] != "y" {
		t.Errorf("Expected decrypted then masked variables, got %v", viewed.Variables["p1"])
	}
}
