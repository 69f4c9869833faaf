package root

import (
	"github.com/shardgate/dbdirectory/apps/cli/cmd/bootstrap"
	"github.com/shardgate/dbdirectory/apps/cli/cmd/provision"
	"github.com/shardgate/dbdirectory/apps/cli/cmd/resolve"
)

func init() {
	Root().AddCommand(bootstrap.Command())
	Root().AddCommand(resolve.Command())
	Root().AddCommand(provision.Command())
}
