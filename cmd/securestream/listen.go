package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sage-x-project/securestream/demo"
	"github.com/sage-x-project/securestream/session"
	"github.com/spf13/cobra"
)

var (
	listenAddr          string
	listenMechanism     string
	listenKeystoreDir   string
	listenKeyID         string
	listenRSABits       int
	listenRekeyInterval time.Duration
	listenRekeyCounter  uint32
	listenBindSeqAAD    bool
	listenAUCount       int
	listenAUSize        int
	listenAUInterval    time.Duration
	listenVerbose       bool
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Accept one pairwise session as the listener/responder role",
	Long: `Accept a single TCP connection and run it as one pairwise session in the
listener role: respond to the handshake, exchange Confirm, and run the
steady-state send/receive loops until the peer closes the stream or the
session fails.`,
	Example: `  # Listen with key-transport (requires a stored RSA identity key)
  securestream listen --addr :9443 --mechanism key-transport --storage-dir ./keys --key-id listener1

  # Listen with key-agreement (no identity key needed)
  securestream listen --addr :9443 --mechanism key-agreement`,
	RunE: runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)

	listenCmd.Flags().StringVar(&listenAddr, "addr", ":9443", "Address to listen on")
	listenCmd.Flags().StringVar(&listenMechanism, "mechanism", "key-agreement", "Handshake mechanism (key-transport, key-agreement)")
	listenCmd.Flags().StringVarP(&listenKeystoreDir, "storage-dir", "s", "", "Key store directory (key-transport only)")
	listenCmd.Flags().StringVarP(&listenKeyID, "key-id", "k", "", "Identity key ID (key-transport only)")
	listenCmd.Flags().IntVar(&listenRSABits, "rsa-bits", 2048, "RSA modulus size in bits")
	listenCmd.Flags().DurationVar(&listenRekeyInterval, "rekey-interval", 10*time.Minute, "Time-based rekey interval")
	listenCmd.Flags().Uint32Var(&listenRekeyCounter, "rekey-counter-threshold", 1<<20, "Counter-based rekey threshold")
	listenCmd.Flags().BoolVar(&listenBindSeqAAD, "bind-seq-aad", false, "Bind each record's AEAD counter into the AEAD AAD")
	listenCmd.Flags().IntVar(&listenAUCount, "count", 0, "Number of demo AUs to send (0 = unbounded)")
	listenCmd.Flags().IntVar(&listenAUSize, "size", 1200, "Demo AU size in bytes")
	listenCmd.Flags().DurationVar(&listenAUInterval, "interval", 33*time.Millisecond, "Demo AU send interval")
	listenCmd.Flags().BoolVarP(&listenVerbose, "verbose", "v", false, "Log every received AU")
}

func runListen(cmd *cobra.Command, args []string) error {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}
	defer ln.Close()

	fmt.Printf("listening on %s (mechanism=%s)\n", listenAddr, listenMechanism)
	conn, err := ln.Accept()
	if err != nil {
		return fmt.Errorf("failed to accept connection: %w", err)
	}
	defer conn.Close()

	hs, err := buildHandshaker(listenMechanism, listenKeystoreDir, listenKeyID, true)
	if err != nil {
		return err
	}

	cfg := buildSessionConfig(listenMechanism, listenRSABits, listenRekeyInterval, listenRekeyCounter, listenBindSeqAAD, session.RoleListener)
	producer := demo.NewTickerProducer(listenAUInterval, listenAUSize, listenAUCount)
	consumer := demo.NewLoggingConsumer(os.Stdout, listenVerbose)

	sess := session.New(uuid.NewString(), session.RoleListener, session.Mechanism(listenMechanism), conn, hs, false, producer, consumer, cfg, nil)

	err = sess.Run(context.Background())
	fmt.Printf("session ended: state=%s received=%d err=%v\n", sess.State(), consumer.Count(), err)
	return err
}
