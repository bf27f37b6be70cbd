package provision

import "context"

// ExternalLauncher points every strategy at an already-running server. The
// requested port is ignored and Stop does nothing, so strategies share the
// one database instead of getting their own.
type ExternalLauncher struct {
	Endpoint Endpoint
}

var _ Launcher = ExternalLauncher{}

func (e ExternalLauncher) Start(context.Context, string, int) (Endpoint, error) {
	return e.Endpoint, nil
}

func (e ExternalLauncher) Stop(context.Context, string) error {
	return nil
}
