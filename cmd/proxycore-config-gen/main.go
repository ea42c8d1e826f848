package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"proxycore/config"
)

func main() {
	output := flag.String("output", "proxy-config.json", "Output file name")
	flag.Parse()

	filename := *output

	if _, err := os.Stat(filename); err == nil {
		fmt.Printf("File %s already exists. Overwrite? (y/n): ", filename)
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("Aborted.")
			return
		}
	}

	cfg := config.DefaultConfig()
	if err := config.Save(filename, cfg); err != nil {
		log.Fatalf("Failed to save config: %v", err)
	}

	fmt.Printf("Configuration saved to %s\n", filename)

	separator := strings.Repeat("-", 60)
	fmt.Println("\n" + separator)
	fmt.Println("Next steps:")
	fmt.Println(separator)
	fmt.Printf("\n1. Edit %s: set server_address/server_port to the upstream,\n", filename)
	fmt.Println("   and username/password or access_token/client_token for auth.")
	fmt.Printf("2. Start the proxy:\n   ./proxycore -config %s\n", filename)
	fmt.Println()
}
