package banner

import (
	"fmt"

	"chatrelay/pkg/config"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗██████╗ ███████╗██╗      █████╗ ██╗   ██╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔══██╗██╔════╝██║     ██╔══██╗╚██╗ ██╔╝
██║     ███████║███████║   ██║   ██████╔╝█████╗  ██║     ███████║ ╚████╔╝
██║     ██╔══██║██╔══██║   ██║   ██╔══██╗██╔══╝  ██║     ██╔══██║  ╚██╔╝
╚██████╗██║  ██║██║  ██║   ██║   ██║  ██║███████╗███████╗██║  ██║   ██║
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚═╝  ╚═╝╚══════╝╚══════╝╚═╝  ╚═╝   ╚═╝
`

// PrintWithEff prints the startup banner with the effective runtime config.
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	dbPath := eff.DBPath
	if dbPath == "" && eff.Config != nil {
		dbPath = eff.Config.Server.DBPath
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config:   %s\n", src)

	if eff.Config != nil {
		if eff.Config.Relay.SelfID != "" {
			fmt.Printf("Self ID:  %s\n", eff.Config.Relay.SelfID)
		} else {
			fmt.Println("Self ID:  not set (outbound direction detection disabled)")
		}
		if eff.Config.Server.TLS.CertFile != "" && eff.Config.Server.TLS.KeyFile != "" {
			fmt.Println("TLS:      configured")
		} else {
			fmt.Println("TLS:      unconfigured")
		}
		if eff.Config.Retention.Enabled {
			fmt.Printf("Retention: enabled (cron=%s period=%s)\n", eff.Config.Retention.Cron, eff.Config.Retention.Period)
		} else {
			fmt.Println("Retention: disabled")
		}
	}

	fmt.Println("\n== Examples ===================================================")
	fmt.Println("curl -X POST 'http://<host>:<port>/api/webhooks' -d @payload.json")
	fmt.Println("curl 'http://<host>:<port>/api/conversations'")
	fmt.Println("curl -X POST 'http://<host>:<port>/api/messages' -d '{\"to\":\"919937320320\",\"text\":\"hello\"}'")

	fmt.Println("\n== Logs: =================================================")
}
