package cmd

import (
	"fmt"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

const banner = `
  _           _       _     _
 | |    __ _ | |_ ___| |__ | | _____ _   _
 | |   / _` + "`" + ` || __/ __| '_ \| |/ / _ \ | | |
 | |__| (_| || || (__| | | |   <  __/ |_| |
 |_____\__,_| \__\___|_| |_|_|\_\___|\__, |
                                      __/ |
                                     |___/
`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Zero-Knowledge Vault Sync Gateway - Version %s\x1b[0m\n\n", Version)
}
