package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sage-x-project/securestream/demo"
	"github.com/sage-x-project/securestream/session"
	"github.com/spf13/cobra"
)

var (
	dialAddr          string
	dialMechanism     string
	dialRSABits       int
	dialRekeyInterval time.Duration
	dialRekeyCounter  uint32
	dialBindSeqAAD    bool
	dialTimeout       time.Duration
	dialAUCount       int
	dialAUSize        int
	dialAUInterval    time.Duration
	dialVerbose       bool
)

var dialCmd = &cobra.Command{
	Use:   "dial",
	Short: "Connect out and run one pairwise session as the initiator role",
	Long: `Connect to a listener and run it as one pairwise session in the initiator
role: drive the handshake, exchange Confirm, and run the steady-state
send/receive loops until the peer closes the stream or the session fails.`,
	Example: `  # Dial a key-transport listener
  securestream dial --addr 127.0.0.1:9443 --mechanism key-transport

  # Dial a key-agreement listener
  securestream dial --addr 127.0.0.1:9443 --mechanism key-agreement`,
	RunE: runDial,
}

func init() {
	rootCmd.AddCommand(dialCmd)

	dialCmd.Flags().StringVar(&dialAddr, "addr", "", "Address to connect to (required)")
	dialCmd.Flags().StringVar(&dialMechanism, "mechanism", "key-agreement", "Handshake mechanism (key-transport, key-agreement)")
	dialCmd.Flags().IntVar(&dialRSABits, "rsa-bits", 2048, "RSA modulus size in bits")
	dialCmd.Flags().DurationVar(&dialRekeyInterval, "rekey-interval", 10*time.Minute, "Time-based rekey interval")
	dialCmd.Flags().Uint32Var(&dialRekeyCounter, "rekey-counter-threshold", 1<<20, "Counter-based rekey threshold")
	dialCmd.Flags().BoolVar(&dialBindSeqAAD, "bind-seq-aad", false, "Bind each record's AEAD counter into the AEAD AAD")
	dialCmd.Flags().DurationVar(&dialTimeout, "dial-timeout", 10*time.Second, "TCP connect timeout")
	dialCmd.Flags().IntVar(&dialAUCount, "count", 0, "Number of demo AUs to send (0 = unbounded)")
	dialCmd.Flags().IntVar(&dialAUSize, "size", 1200, "Demo AU size in bytes")
	dialCmd.Flags().DurationVar(&dialAUInterval, "interval", 33*time.Millisecond, "Demo AU send interval")
	dialCmd.Flags().BoolVarP(&dialVerbose, "verbose", "v", false, "Log every received AU")

	dialCmd.MarkFlagRequired("addr")
}

func runDial(cmd *cobra.Command, args []string) error {
	conn, err := dialTCP(dialAddr, dialTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", dialAddr, err)
	}
	defer conn.Close()

	hs, err := buildHandshaker(dialMechanism, "", "", false)
	if err != nil {
		return err
	}

	cfg := buildSessionConfig(dialMechanism, dialRSABits, dialRekeyInterval, dialRekeyCounter, dialBindSeqAAD, session.RoleInitiator)
	producer := demo.NewTickerProducer(dialAUInterval, dialAUSize, dialAUCount)
	consumer := demo.NewLoggingConsumer(os.Stdout, dialVerbose)

	sess := session.New(uuid.NewString(), session.RoleInitiator, session.Mechanism(dialMechanism), conn, hs, true, producer, consumer, cfg, nil)

	err = sess.Run(context.Background())
	fmt.Printf("session ended: state=%s received=%d err=%v\n", sess.State(), consumer.Count(), err)
	return err
}
