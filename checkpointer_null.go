package distill

import "context"

// NullCheckpointer is a no-op implementation
type NullCheckpointer struct{}

func NewNullCheckpointer() *NullCheckpointer {
	return &NullCheckpointer{}
}

func (c *NullCheckpointer) Save(ctx context.Context, step Stage, data map[string]any) error {
	return nil
}

func (c *NullCheckpointer) Load(ctx context.Context) (*Checkpoint, error) {
	return nil, nil
}

func (c *NullCheckpointer) Clear(ctx context.Context) error {
	return nil
}
