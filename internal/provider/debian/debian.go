package debian

import "github.com/open-edge-platform/mirror-sync/internal/provider"

// Debian implements provider.Provider. Debian publishes xz indices.
type Debian struct{}

func init() {
	provider.Register(&Debian{})
}

// Name returns the unique name of the provider
func (p *Debian) Name() string { return "debian" }

func (p *Debian) IndexFiles() []string {
	return []string{"Packages.xz", "Packages.gz"}
}
