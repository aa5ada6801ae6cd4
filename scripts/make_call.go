package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/configutil"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/kivoice"
	"github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/transports"
	twiliotransport "github.com/MarcelGaertner1234/KI-Voice-Agent/pkg/transports/twilio"
)

// make_call places an outbound test call that connects back into a running
// engine via its voice webhook.
func main() {
	configPath := flag.String("config", "config.yaml", "")
	from := flag.String("from", "", "")
	to := flag.String("to", "", "")
	voiceURL := flag.String("voice_url", "", "")
	sendDigits := flag.String("send_digits", "", "")
	flag.Parse()
	if *from == "" || *to == "" {
		fmt.Println("usage: make_call -from=+123 -to=+456 [-config=...]")
		os.Exit(1)
	}

	cfg, err := kivoice.LoadConfig(*configPath)
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	var transportCfg twiliotransport.Config
	if err := configutil.DecodeSettings(cfg.Transport.Settings, &transportCfg); err != nil {
		fmt.Println("settings error:", err)
		os.Exit(1)
	}

	dialer := twiliotransport.NewDialer(transportCfg)
	var callSID string
	if *sendDigits != "" {
		callSID, err = dialer.DialWithOptions(context.Background(), *to, *from, *voiceURL,
			transports.DialOptions{SendDigits: *sendDigits})
	} else {
		callSID, err = dialer.Dial(context.Background(), *to, *from, *voiceURL)
	}
	if err != nil {
		fmt.Println("call error:", err)
		os.Exit(1)
	}
	fmt.Println("call_sid:", callSID)
}
