package ubuntu

import "github.com/open-edge-platform/mirror-sync/internal/provider"

// Ubuntu implements provider.Provider. Older Ubuntu dists only carry bz2
// indices, newer ones dropped them for xz.
type Ubuntu struct{}

func init() {
	provider.Register(&Ubuntu{})
}

// Name returns the unique name of the provider
func (p *Ubuntu) Name() string { return "ubuntu" }

func (p *Ubuntu) IndexFiles() []string {
	return []string{"Packages.bz2", "Packages.xz", "Packages.gz"}
}
