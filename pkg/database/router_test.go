package database

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/modforge-io/modforge-platform/pkg/apperrors"
)

func TestRouter_ResolveAlias(t *testing.T) {
	router := NewRouter(nil, nil, nil, zap.NewNop())

	tests := []struct {
		name      string
		ctx       context.Context
		namespace string
		want      string
		wantErr   error
	}{
		{
			name:      "platform namespace resolves to control plane",
			ctx:       context.Background(),
			namespace: NamespacePlatform,
			want:      DatabaseControl,
		},
		{
			name:      "solution context routes platform namespace to tenant",
			ctx:       WithSolution(context.Background(), "acme_rentals"),
			namespace: NamespacePlatform,
			want:      "acme_rentals",
		},
		{
			name:      "solution context routes business namespace to tenant",
			ctx:       WithSolution(context.Background(), "acme_rentals"),
			namespace: NamespaceBusiness,
			want:      "acme_rentals",
		},
		{
			name:      "hint beats solution context",
			ctx:       WithDatabaseHint(WithSolution(context.Background(), "acme_rentals"), DatabaseControl),
			namespace: NamespaceBusiness,
			want:      DatabaseControl,
		},
		{
			name:      "hint can target another tenant",
			ctx:       WithDatabaseHint(WithSolution(context.Background(), "acme_rentals"), "beta_corp"),
			namespace: NamespaceBusiness,
			want:      "beta_corp",
		},
		{
			name:      "business namespace without solution is unroutable",
			ctx:       context.Background(),
			namespace: NamespaceBusiness,
			wantErr:   apperrors.ErrNamespaceUnroutable,
		},
		{
			name:      "unknown namespace falls back to control plane",
			ctx:       context.Background(),
			namespace: "analytics",
			want:      DatabaseControl,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alias, err := router.ResolveAlias(tt.ctx, tt.namespace)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ResolveAlias() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveAlias() failed: %v", err)
			}
			if alias != tt.want {
				t.Errorf("ResolveAlias() = %q, want %q", alias, tt.want)
			}
		})
	}
}

func TestRouter_AllowMigrate(t *testing.T) {
	router := NewRouter(nil, nil, nil, zap.NewNop())

	tests := []struct {
		name      string
		namespace string
		alias     string
		want      bool
	}{
		{"platform on control plane", NamespacePlatform, DatabaseControl, true},
		{"platform on tenant", NamespacePlatform, "acme_rentals", true},
		{"business on control plane", NamespaceBusiness, DatabaseControl, false},
		{"business on tenant", NamespaceBusiness, "acme_rentals", true},
		{"unknown namespace on control plane", "analytics", DatabaseControl, false},
		{"unknown namespace on tenant", "analytics", "acme_rentals", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := router.AllowMigrate(tt.namespace, tt.alias); got != tt.want {
				t.Errorf("AllowMigrate(%q, %q) = %v, want %v", tt.namespace, tt.alias, got, tt.want)
			}
		})
	}
}
