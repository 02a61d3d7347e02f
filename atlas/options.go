package atlas

import (
	"github.com/veiloq/greenlight/fixtures"
)

// WithAtlas makes an engine fixture apply the migrations declared in the
// atlas.hcl file at hclPath (DefaultHCLPath when empty).
func WithAtlas(hclPath string) fixtures.Option {
	return fixtures.WithMigrator(NewMigrator(hclPath))
}

// WithAtlasDir makes an engine fixture apply the migration directory at dir.
func WithAtlasDir(dir string) fixtures.Option {
	return fixtures.WithMigrator(NewDirMigrator(dir))
}
