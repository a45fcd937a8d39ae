package secrets

import (
	"context"
	"testing"
	"time"
)

func createInMemoryDB(t *testing.T) *SqliteManager {
	t.Helper()
	manager, err := NewSQLiteManager(":memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory manager: %v", err)
	}
	return manager
}

func createTestSecret(scope, key, value, createdBy string) UnlockedSecret {
	return UnlockedSecret{
		Key:       key,
		Value:     value,
		Scope:     Scope(scope),
		CreatedAt: time.Now(),
		CreatedBy: createdBy,
	}
}

func TestNewSQLiteManager(t *testing.T) {
	tests := []struct {
		name        string
		dbPath      string
		opts        []SqliteManagerOpt
		expectError bool
		expectTable string
	}{
		{
			name:        "default table name",
			dbPath:      ":memory:",
			opts:        nil,
			expectError: false,
			expectTable: "secrets",
		},
		{
			name:        "custom table name",
			dbPath:      ":memory:",
			opts:        []SqliteManagerOpt{WithTableName("custom_secrets")},
			expectError: false,
			expectTable: "custom_secrets",
		},
		{
			name:        "invalid database path",
			dbPath:      "/invalid/path/to/database.db",
			opts:        nil,
			expectError: true,
			expectTable: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager, err := NewSQLiteManager(tt.dbPath, tt.opts...)
			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			defer manager.db.Close()

			if manager.tableName != tt.expectTable {
				t.Errorf("Expected table name %s, got %s", tt.expectTable, manager.tableName)
			}
		})
	}
}

func TestSqliteManager_AddSecret(t *testing.T) {
	tests := []struct {
		name        string
		secrets     []UnlockedSecret
		expectError []error
	}{
		{
			name: "add single secret",
			secrets: []UnlockedSecret{
				createTestSecret("alice/widgets", "API_KEY", "secret_value_123", "alice"),
			},
			expectError: []error{nil},
		},
		{
			name: "add multiple unique secrets",
			secrets: []UnlockedSecret{
				createTestSecret("alice/widgets", "API_KEY", "secret_value_123", "alice"),
				createTestSecret("alice/widgets", "DB_PASSWORD", "password_456", "alice"),
				createTestSecret("bob/gadgets", "API_KEY", "other_secret", "bob"),
			},
			expectError: []error{nil, nil, nil},
		},
		{
			name: "add duplicate secret",
			secrets: []UnlockedSecret{
				createTestSecret("alice/widgets", "API_KEY", "secret_value_123", "alice"),
				createTestSecret("alice/widgets", "API_KEY", "different_value", "alice"),
			},
			expectError: []error{nil, ErrKeyAlreadyPresent},
		},
		{
			name: "reject keys that are not identifiers",
			secrets: []UnlockedSecret{
				createTestSecret("alice/widgets", "api-key", "x", "alice"),
				createTestSecret("alice/widgets", "1KEY", "x", "alice"),
				createTestSecret("alice/widgets", "", "x", "alice"),
			},
			expectError: []error{ErrInvalidKeyIdent, ErrInvalidKeyIdent, ErrInvalidKeyIdent},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := createInMemoryDB(t)
			defer manager.db.Close()

			ctx := context.Background()
			for i, secret := range tt.secrets {
				err := manager.AddSecret(ctx, secret)
				if err != tt.expectError[i] {
					t.Errorf("Secret %d: expected error %v, got %v", i, tt.expectError[i], err)
				}
			}
		})
	}
}

func TestSqliteManager_RemoveSecret(t *testing.T) {
	tests := []struct {
		name         string
		setupSecrets []UnlockedSecret
		removeSecret Secret[any]
		expectError  error
	}{
		{
			name: "remove existing secret",
			setupSecrets: []UnlockedSecret{
				createTestSecret("alice/widgets", "API_KEY", "secret_value_123", "alice"),
			},
			removeSecret: Secret[any]{
				Key:   "API_KEY",
				Scope: Scope("alice/widgets"),
			},
			expectError: nil,
		},
		{
			name: "remove non-existent secret",
			setupSecrets: []UnlockedSecret{
				createTestSecret("alice/widgets", "API_KEY", "secret_value_123", "alice"),
			},
			removeSecret: Secret[any]{
				Key:   "NON_EXISTENT_KEY",
				Scope: Scope("alice/widgets"),
			},
			expectError: ErrKeyNotFound,
		},
		{
			name:         "remove from empty database",
			setupSecrets: []UnlockedSecret{},
			removeSecret: Secret[any]{
				Key:   "ANY_KEY",
				Scope: Scope("alice/widgets"),
			},
			expectError: ErrKeyNotFound,
		},
		{
			name: "remove secret from wrong scope",
			setupSecrets: []UnlockedSecret{
				createTestSecret("alice/widgets", "API_KEY", "secret_value_123", "alice"),
			},
			removeSecret: Secret[any]{
				Key:   "API_KEY",
				Scope: Scope("bob/gadgets"),
			},
			expectError: ErrKeyNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := createInMemoryDB(t)
			defer manager.db.Close()

			ctx := context.Background()
			for _, secret := range tt.setupSecrets {
				if err := manager.AddSecret(ctx, secret); err != nil {
					t.Fatalf("Failed to setup secret: %v", err)
				}
			}

			err := manager.RemoveSecret(ctx, tt.removeSecret)
			if err != tt.expectError {
				t.Errorf("Expected error %v, got %v", tt.expectError, err)
			}
		})
	}
}

func TestSqliteManager_GetSecretsLocked(t *testing.T) {
	tests := []struct {
		name          string
		setupSecrets  []UnlockedSecret
		queryScope    Scope
		expectedCount int
		expectedKeys  []string
	}{
		{
			name: "get secrets for scope with multiple secrets",
			setupSecrets: []UnlockedSecret{
				createTestSecret("alice/widgets", "KEY1", "value1", "alice"),
				createTestSecret("alice/widgets", "KEY2", "value2", "carol"),
				createTestSecret("bob/gadgets", "KEY3", "value3", "bob"),
			},
			queryScope:    Scope("alice/widgets"),
			expectedCount: 2,
			expectedKeys:  []string{"KEY1", "KEY2"},
		},
		{
			name: "get secrets for non-existent scope",
			setupSecrets: []UnlockedSecret{
				createTestSecret("alice/widgets", "KEY1", "value1", "alice"),
			},
			queryScope:    Scope("nobody/nothing"),
			expectedCount: 0,
			expectedKeys:  []string{},
		},
		{
			name:          "get secrets from empty database",
			setupSecrets:  []UnlockedSecret{},
			queryScope:    Scope("alice/widgets"),
			expectedCount: 0,
			expectedKeys:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := createInMemoryDB(t)
			defer manager.db.Close()

			ctx := context.Background()
			for _, secret := range tt.setupSecrets {
				if err := manager.AddSecret(ctx, secret); err != nil {
					t.Fatalf("Failed to setup secret: %v", err)
				}
			}

			lockedSecrets, err := manager.GetSecretsLocked(ctx, tt.queryScope)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if len(lockedSecrets) != tt.expectedCount {
				t.Errorf("Expected %d secrets, got %d", tt.expectedCount, len(lockedSecrets))
			}

			foundKeys := make(map[string]bool)
			for _, ls := range lockedSecrets {
				foundKeys[ls.Key] = true
				if ls.Scope != tt.queryScope {
					t.Errorf("Expected scope %s, got %s", tt.queryScope, ls.Scope)
				}
				if ls.CreatedBy == "" {
					t.Error("Expected CreatedBy to be present")
				}
				if ls.CreatedAt.IsZero() {
					t.Error("Expected CreatedAt to be set")
				}
			}

			for _, expectedKey := range tt.expectedKeys {
				if !foundKeys[expectedKey] {
					t.Errorf("Expected key %s not found", expectedKey)
				}
			}
		})
	}
}

func TestSqliteManager_GetSecretsUnlocked(t *testing.T) {
	tests := []struct {
		name            string
		setupSecrets    []UnlockedSecret
		queryScope      Scope
		expectedSecrets map[string]string // key -> value
	}{
		{
			name: "get unlocked secrets for scope with multiple secrets",
			setupSecrets: []UnlockedSecret{
				createTestSecret("alice/widgets", "KEY1", "value1", "alice"),
				createTestSecret("alice/widgets", "KEY2", "value2", "carol"),
				createTestSecret("bob/gadgets", "KEY3", "value3", "bob"),
			},
			queryScope: Scope("alice/widgets"),
			expectedSecrets: map[string]string{
				"KEY1": "value1",
				"KEY2": "value2",
			},
		},
		{
			name: "get unlocked secrets for non-existent scope",
			setupSecrets: []UnlockedSecret{
				createTestSecret("alice/widgets", "KEY1", "value1", "alice"),
			},
			queryScope:      Scope("nobody/nothing"),
			expectedSecrets: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := createInMemoryDB(t)
			defer manager.db.Close()

			ctx := context.Background()
			for _, secret := range tt.setupSecrets {
				if err := manager.AddSecret(ctx, secret); err != nil {
					t.Fatalf("Failed to setup secret: %v", err)
				}
			}

			unlockedSecrets, err := manager.GetSecretsUnlocked(ctx, tt.queryScope)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if len(unlockedSecrets) != len(tt.expectedSecrets) {
				t.Errorf("Expected %d secrets, got %d", len(tt.expectedSecrets), len(unlockedSecrets))
			}

			for _, us := range unlockedSecrets {
				expectedValue, exists := tt.expectedSecrets[us.Key]
				if !exists {
					t.Errorf("Unexpected key: %s", us.Key)
					continue
				}
				if us.Value != expectedValue {
					t.Errorf("Expected value %s for key %s, got %s", expectedValue, us.Key, us.Value)
				}
				if us.Scope != tt.queryScope {
					t.Errorf("Expected scope %s, got %s", tt.queryScope, us.Scope)
				}
			}
		})
	}
}

// Integration test exercising the Manager interface end to end
func TestSqliteManager_Integration(t *testing.T) {
	manager := createInMemoryDB(t)
	defer manager.db.Close()

	ctx := context.Background()
	scope1 := Scope("alice/widgets")
	scope2 := Scope("alice/widgets/production")

	secrets := []UnlockedSecret{
		createTestSecret(string(scope1), "DB_PASSWORD", "super_secret_123", "alice"),
		createTestSecret(string(scope1), "API_KEY", "api_key_456", "alice"),
		createTestSecret(string(scope2), "DEPLOY_TOKEN", "bearer_token_789", "carol"),
	}

	for _, secret := range secrets {
		if err := manager.AddSecret(ctx, secret); err != nil {
			t.Fatalf("Failed to add secret %s: %v", secret.Key, err)
		}
	}

	locked1, _ := manager.GetSecretsLocked(ctx, scope1)
	locked2, _ := manager.GetSecretsLocked(ctx, scope2)

	if len(locked1) != 2 {
		t.Errorf("Expected 2 secrets for scope1, got %d", len(locked1))
	}
	if len(locked2) != 1 {
		t.Errorf("Expected 1 secret for scope2, got %d", len(locked2))
	}

	secretToRemove := Secret[any]{Key: "DB_PASSWORD", Scope: scope1}
	if err := manager.RemoveSecret(ctx, secretToRemove); err != nil {
		t.Fatalf("Failed to remove secret: %v", err)
	}

	locked1After, _ := manager.GetSecretsLocked(ctx, scope1)
	if len(locked1After) != 1 {
		t.Errorf("Expected 1 secret for scope1 after removal, got %d", len(locked1After))
	}
	if locked1After[0].Key != "API_KEY" {
		t.Errorf("Expected remaining secret to be 'API_KEY', got %s", locked1After[0].Key)
	}
}
