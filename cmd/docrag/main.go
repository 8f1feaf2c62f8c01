// Command docrag answers questions about local documents.
package main

import (
	"github.com/0xcro3dile/docrag/internal/cli"
)

// main delegates to the cobra root command.
func main() {
	cli.Execute()
}
