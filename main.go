// Command harvester captures storefront snapshots into Postgres.
package main

import "github.com/JakeFAU/steam-harvester/cmd"

func main() {
	cmd.Execute()
}
