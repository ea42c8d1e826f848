package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"proxycore/stats"
)

func main() {
	watch := flag.Bool("watch", false, "Continuously display statistics")
	interval := flag.Int("interval", 1, "Refresh interval in seconds (watch mode)")
	jsonOutput := flag.Bool("json", false, "Print as JSON")
	flag.Parse()

	if *watch {
		watchStats(*interval, *jsonOutput)
	} else {
		printStats(*jsonOutput)
	}
}

func printStats(asJSON bool) {
	snapshot := stats.Global().GetSnapshot()

	if asJSON {
		data, _ := json.MarshalIndent(snapshot, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Println("╔══════════════════════════════════════════════════════════╗")
	fmt.Println("║                  proxycore statistics                    ║")
	fmt.Println("╠══════════════════════════════════════════════════════════╣")

	fmt.Println("║ Connections:                                             ║")
	fmt.Printf("║   Total:         %-10d                            ║\n", snapshot.TotalConnections)
	fmt.Printf("║   Active:        %-10d                            ║\n", snapshot.ActiveConnections)
	fmt.Printf("║   Failed:        %-10d                            ║\n", snapshot.FailedConnections)
	fmt.Println("║                                                            ║")

	fmt.Println("║ Traffic:                                                  ║")
	fmt.Printf("║   Bytes sent:    %-10s                            ║\n", formatBytes(snapshot.BytesSent))
	fmt.Printf("║   Bytes recv:    %-10s                            ║\n", formatBytes(snapshot.BytesReceived))
	fmt.Printf("║   Packets TX:    %-10d                            ║\n", snapshot.PacketsSent)
	fmt.Printf("║   Packets RX:    %-10d                            ║\n", snapshot.PacketsReceived)
	fmt.Println("║                                                            ║")

	fmt.Println("║ Errors:                                                   ║")
	fmt.Printf("║   Total:         %-10d                            ║\n", snapshot.TotalErrors)
	fmt.Printf("║   Connection:    %-10d                            ║\n", snapshot.ConnectionErrors)
	fmt.Printf("║   Packet:        %-10d                            ║\n", snapshot.PacketErrors)
	fmt.Println("║                                                            ║")

	fmt.Println("║ Time:                                                     ║")
	fmt.Printf("║   Uptime:        %-10s                            ║\n", formatDuration(snapshot.Uptime))
	fmt.Printf("║   Last activity: %s                              ║\n", snapshot.LastActivity.Format("15:04:05"))

	if len(snapshot.PacketTypes) > 0 {
		fmt.Println("║                                                            ║")
		fmt.Println("║ Packet types:                                             ║")
		for pktType, count := range snapshot.PacketTypes {
			fmt.Printf("║   %-20s %-10d                   ║\n", pktType, count)
		}
	}

	fmt.Println("╚══════════════════════════════════════════════════════════╝")
}

func watchStats(interval int, asJSON bool) {
	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()

	for {
		if !asJSON {
			fmt.Print("\033[H\033[2J")
		}
		printStats(asJSON)
		<-ticker.C
	}
}

func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%.1fh", d.Hours())
	}
	return fmt.Sprintf("%.1fd", d.Hours()/24)
}
