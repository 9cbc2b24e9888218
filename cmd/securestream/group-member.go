package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sage-x-project/securestream/crypto/keyschedule"
	"github.com/sage-x-project/securestream/demo"
	"github.com/sage-x-project/securestream/group"
	"github.com/sage-x-project/securestream/handshake"
	"github.com/sage-x-project/securestream/session"
	"github.com/spf13/cobra"
)

var (
	gmemAddr       string
	gmemMechanism  string
	gmemKeystore   string
	gmemKeyID      string
	gmemNodeID     string
	gmemAUCount    int
	gmemAUSize     int
	gmemAUInterval time.Duration
	gmemVerbose    bool
)

var groupMemberCmd = &cobra.Command{
	Use:   "group-member",
	Short: "Accept a leader's pairwise channel, join the group, run the group stream",
	Long: `Accept the leader's incoming connection, complete the pairwise handshake
as the listener, receive the group_secret||salt (C8), derive the group key
schedule, then run the shared group session over the same connection using
the preshared group keys (no second wire handshake).`,
	RunE: runGroupMember,
}

func init() {
	rootCmd.AddCommand(groupMemberCmd)

	groupMemberCmd.Flags().StringVar(&gmemAddr, "addr", ":9444", "Address to listen on for the leader's connection")
	groupMemberCmd.Flags().StringVar(&gmemMechanism, "mechanism", "key-agreement", "Pairwise handshake mechanism (key-transport, key-agreement)")
	groupMemberCmd.Flags().StringVarP(&gmemKeystore, "storage-dir", "s", "", "Key store directory (key-transport only)")
	groupMemberCmd.Flags().StringVarP(&gmemKeyID, "key-id", "k", "", "Identity key ID (key-transport only)")
	groupMemberCmd.Flags().StringVar(&gmemNodeID, "node-id", "member", "This node's roster ID")
	groupMemberCmd.Flags().IntVar(&gmemAUCount, "count", 0, "Number of demo AUs to send on the group stream (0 = unbounded)")
	groupMemberCmd.Flags().IntVar(&gmemAUSize, "size", 1200, "Demo AU size in bytes")
	groupMemberCmd.Flags().DurationVar(&gmemAUInterval, "interval", 33*time.Millisecond, "Demo AU send interval")
	groupMemberCmd.Flags().BoolVarP(&gmemVerbose, "verbose", "v", false, "Log every received AU")
}

func runGroupMember(cmd *cobra.Command, args []string) error {
	ln, err := net.Listen("tcp", gmemAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", gmemAddr, err)
	}
	defer ln.Close()

	fmt.Printf("group member %q waiting for leader on %s\n", gmemNodeID, gmemAddr)
	conn, err := ln.Accept()
	if err != nil {
		return fmt.Errorf("failed to accept leader connection: %w", err)
	}
	defer conn.Close()

	pairwiseHS, err := buildHandshaker(gmemMechanism, gmemKeystore, gmemKeyID, true)
	if err != nil {
		return err
	}

	pairwiseCfg := buildSessionConfig(gmemMechanism, 2048, 10*time.Minute, 1<<20, false, session.RoleMember)
	pairwise := session.New(uuid.NewString(), session.RoleMember, session.Mechanism(gmemMechanism), conn, pairwiseHS, false, nil, nil, pairwiseCfg, nil)

	if err := pairwise.Handshake(context.Background()); err != nil {
		return fmt.Errorf("pairwise handshake with leader failed: %w", err)
	}

	secret, salt, err := group.Join(pairwise)
	if err != nil {
		return fmt.Errorf("group join failed: %w", err)
	}
	defer keyschedule.WipeSecret(secret)

	groupKeys, err := keyschedule.DeriveGroup(secret, salt)
	if err != nil {
		return fmt.Errorf("failed to derive group keys: %w", err)
	}

	groupHS := handshake.NewPreshared(groupKeys)
	producer := demo.NewTickerProducer(gmemAUInterval, gmemAUSize, gmemAUCount)
	consumer := demo.NewLoggingConsumer(os.Stdout, gmemVerbose)
	groupCfg := buildGroupSessionConfig(gmemMechanism, false, session.RoleMember)

	groupSess := session.New("group-"+gmemNodeID, session.RoleMember, session.MechanismGroup, conn, groupHS, false, producer, consumer, groupCfg, nil)

	err = groupSess.Run(context.Background())
	fmt.Printf("group stream ended: state=%s received=%d err=%v\n", groupSess.State(), consumer.Count(), err)
	return err
}
