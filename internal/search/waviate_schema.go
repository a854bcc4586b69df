package search

import (
	"context"
	"fmt"
	"time"

	weaviate "github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

const (
	classMemo       = "Memo"
	classMessage    = "Message"
	classAttachment = "Attachment"
)

// BootstrapWaviate ensures the three retrieval classes exist with
// multi-tenancy enabled, one tenant per workspace. In dev/e2e, a class found
// without multi-tenancy enabled is dropped and recreated.
func BootstrapWaviate(ctx context.Context, baseURL string) error {
	cl, err := weaviate.NewClient(weaviate.Config{Scheme: "http", Host: baseURL})
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	memo := &models.Class{
		Class:      classMemo,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "objId", DataType: []string{"uuid"}},
			{Name: "streamId", DataType: []string{"text"}},
			{Name: "workspaceId", DataType: []string{"text"}},
			{Name: "snippet", DataType: []string{"text"}},
			{Name: "body", DataType: []string{"text"}},
			{Name: "creationTime", DataType: []string{"date"}},
		},
		MultiTenancyConfig: &models.MultiTenancyConfig{Enabled: true},
	}

	message := &models.Class{
		Class:      classMessage,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "objId", DataType: []string{"uuid"}},
			{Name: "streamId", DataType: []string{"text"}},
			{Name: "workspaceId", DataType: []string{"text"}},
			{Name: "snippet", DataType: []string{"text"}},
			{Name: "body", DataType: []string{"text"}},
			{Name: "authorId", DataType: []string{"text"}},
			{Name: "creationTime", DataType: []string{"date"}},
		},
		MultiTenancyConfig: &models.MultiTenancyConfig{Enabled: true},
	}

	attachment := &models.Class{
		Class:      classAttachment,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "objId", DataType: []string{"uuid"}},
			{Name: "streamId", DataType: []string{"text"}},
			{Name: "workspaceId", DataType: []string{"text"}},
			{Name: "snippet", DataType: []string{"text"}},
			{Name: "filename", DataType: []string{"text"}},
			{Name: "extractionText", DataType: []string{"text"}},
			{Name: "creationTime", DataType: []string{"date"}},
		},
		MultiTenancyConfig: &models.MultiTenancyConfig{Enabled: true},
	}

	for _, c := range []*models.Class{memo, message, attachment} {
		if err := ensureMTClass(cctx, cl, c); err != nil {
			return fmt.Errorf("bootstrap %s: %w", c.Class, err)
		}
	}
	return nil
}

func ensureMTClass(ctx context.Context, cl *weaviate.Client, desired *models.Class) error {
	ex, err := cl.Schema().ClassGetter().WithClassName(desired.Class).Do(ctx)
	if err == nil && ex != nil {
		if ex.MultiTenancyConfig != nil && ex.MultiTenancyConfig.Enabled {
			return nil
		}
		if err := cl.Schema().ClassDeleter().WithClassName(desired.Class).Do(ctx); err != nil {
			return fmt.Errorf("delete class %s: %w", desired.Class, err)
		}
	}
	if err := cl.Schema().ClassCreator().WithClass(desired).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", desired.Class, err)
	}
	return nil
}
