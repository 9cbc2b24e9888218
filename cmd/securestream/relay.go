package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sage-x-project/securestream/relay"
	"github.com/sage-x-project/securestream/session"
	"github.com/spf13/cobra"
)

var (
	relayListenAddr   string
	relayDialAddr     string
	relayMechanism    string
	relayKeystoreDir  string
	relayKeyID        string
	relayDialTimeout  time.Duration
	relayRekeyInterv  time.Duration
	relayRekeyCounter uint32
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay one session leg to another (single-hop, C9)",
	Long: `Accept one inbound connection (the left leg) and dial one outbound
connection (the right leg), independently complete a handshake on each, then
pump authenticated application units from one leg to the other: an AU only
crosses once it has been opened and authenticated on its originating leg,
and is immediately re-sealed under the other leg's independent keys.`,
	Example: `  securestream relay --listen-addr :9000 --dial-addr upstream:9443 --mechanism key-agreement`,
	RunE: runRelay,
}

func init() {
	rootCmd.AddCommand(relayCmd)

	relayCmd.Flags().StringVar(&relayListenAddr, "listen-addr", ":9000", "Address to accept the left (downstream) leg on")
	relayCmd.Flags().StringVar(&relayDialAddr, "dial-addr", "", "Address to dial for the right (upstream) leg (required)")
	relayCmd.Flags().StringVar(&relayMechanism, "mechanism", "key-agreement", "Handshake mechanism for both legs (key-transport, key-agreement)")
	relayCmd.Flags().StringVarP(&relayKeystoreDir, "storage-dir", "s", "", "Key store directory (key-transport only, left leg identity)")
	relayCmd.Flags().StringVarP(&relayKeyID, "key-id", "k", "", "Identity key ID (key-transport only, left leg identity)")
	relayCmd.Flags().DurationVar(&relayDialTimeout, "dial-timeout", 10*time.Second, "TCP connect timeout for the right leg")
	relayCmd.Flags().DurationVar(&relayRekeyInterv, "rekey-interval", 10*time.Minute, "Time-based rekey interval for both legs")
	relayCmd.Flags().Uint32Var(&relayRekeyCounter, "rekey-counter-threshold", 1<<20, "Counter-based rekey threshold for both legs")

	relayCmd.MarkFlagRequired("dial-addr")
}

func runRelay(cmd *cobra.Command, args []string) error {
	ln, err := net.Listen("tcp", relayListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", relayListenAddr, err)
	}
	defer ln.Close()

	fmt.Printf("relay waiting for left leg on %s\n", relayListenAddr)
	leftConn, err := ln.Accept()
	if err != nil {
		return fmt.Errorf("failed to accept left leg: %w", err)
	}
	defer leftConn.Close()

	leftHS, err := buildHandshaker(relayMechanism, relayKeystoreDir, relayKeyID, true)
	if err != nil {
		return err
	}
	leftCfg := buildSessionConfig(relayMechanism, 2048, relayRekeyInterv, relayRekeyCounter, false, session.RoleRelay)
	left := session.New("relay-left", session.RoleRelay, session.Mechanism(relayMechanism), leftConn, leftHS, false, nil, nil, leftCfg, nil)

	fmt.Printf("relay dialing right leg at %s\n", relayDialAddr)
	rightConn, err := dialTCP(relayDialAddr, relayDialTimeout)
	if err != nil {
		return fmt.Errorf("failed to dial right leg at %s: %w", relayDialAddr, err)
	}
	defer rightConn.Close()

	rightHS, err := buildHandshaker(relayMechanism, "", "", false)
	if err != nil {
		return err
	}
	rightCfg := buildSessionConfig(relayMechanism, 2048, relayRekeyInterv, relayRekeyCounter, false, session.RoleRelay)
	right := session.New("relay-right", session.RoleRelay, session.Mechanism(relayMechanism), rightConn, rightHS, true, nil, nil, rightCfg, nil)

	ctx := context.Background()
	r := relay.New(ctx, left, right)

	err = r.Run(ctx)
	fmt.Printf("relay ended: left=%s right=%s err=%v\n", left.State(), right.State(), err)
	return err
}
