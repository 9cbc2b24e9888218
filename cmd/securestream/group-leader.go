package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/sage-x-project/securestream/crypto/keyschedule"
	"github.com/sage-x-project/securestream/demo"
	"github.com/sage-x-project/securestream/group"
	"github.com/sage-x-project/securestream/handshake"
	"github.com/sage-x-project/securestream/session"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	gleadMembers    []string
	gleadMechanism  string
	gleadKeystore   string
	gleadKeyID      string
	gleadDialTO     time.Duration
	gleadAUCount    int
	gleadAUSize     int
	gleadAUInterval time.Duration
	gleadVerbose    bool
)

var groupLeaderCmd = &cobra.Command{
	Use:   "group-leader",
	Short: "Dial every member, distribute a group secret, run the group stream to all",
	Long: `Dial each member in the roster, complete a pairwise handshake as the
initiator over every connection, distribute a single fresh group_secret and
salt (C8), then run one group session per member over its pairwise
connection using the shared preshared group keys.`,
	Example: `  securestream group-leader --members alice@127.0.0.1:9444,bob@127.0.0.1:9445 --mechanism key-agreement`,
	RunE: runGroupLeader,
}

func init() {
	rootCmd.AddCommand(groupLeaderCmd)

	groupLeaderCmd.Flags().StringSliceVar(&gleadMembers, "members", nil, "Comma-separated node_id@host:port roster entries (required)")
	groupLeaderCmd.Flags().StringVar(&gleadMechanism, "mechanism", "key-agreement", "Pairwise handshake mechanism (key-transport, key-agreement)")
	groupLeaderCmd.Flags().StringVarP(&gleadKeystore, "storage-dir", "s", "", "Key store directory (key-transport only)")
	groupLeaderCmd.Flags().StringVarP(&gleadKeyID, "key-id", "k", "", "Identity key ID (key-transport only)")
	groupLeaderCmd.Flags().DurationVar(&gleadDialTO, "dial-timeout", 10*time.Second, "TCP connect timeout per member")
	groupLeaderCmd.Flags().IntVar(&gleadAUCount, "count", 0, "Number of demo AUs to send on the group stream (0 = unbounded)")
	groupLeaderCmd.Flags().IntVar(&gleadAUSize, "size", 1200, "Demo AU size in bytes")
	groupLeaderCmd.Flags().DurationVar(&gleadAUInterval, "interval", 33*time.Millisecond, "Demo AU send interval")
	groupLeaderCmd.Flags().BoolVarP(&gleadVerbose, "verbose", "v", false, "Log every received AU")

	groupLeaderCmd.MarkFlagRequired("members")
}

// dialedMember pairs a member's roster ID with the TCP connection and
// pairwise session built over it; the connection is kept around separately
// since Session does not expose its Transport once constructed.
type dialedMember struct {
	nodeID  string
	conn    net.Conn
	session *session.Session
}

func runGroupLeader(cmd *cobra.Command, args []string) error {
	if len(gleadMembers) == 0 {
		return fmt.Errorf("at least one --members entry is required")
	}

	var dialed []dialedMember
	for _, entry := range gleadMembers {
		nodeID, addr, err := parseMember(entry)
		if err != nil {
			return err
		}

		conn, err := dialTCP(addr, gleadDialTO)
		if err != nil {
			return fmt.Errorf("failed to connect to member %s at %s: %w", nodeID, addr, err)
		}

		hs, err := buildHandshaker(gleadMechanism, gleadKeystore, gleadKeyID, false)
		if err != nil {
			return err
		}

		cfg := buildSessionConfig(gleadMechanism, 2048, 10*time.Minute, 1<<20, false, session.RoleLeader)
		sess := session.New("pairwise-"+nodeID, session.RoleLeader, session.Mechanism(gleadMechanism), conn, hs, true, nil, nil, cfg, nil)

		if err := sess.Handshake(context.Background()); err != nil {
			return fmt.Errorf("pairwise handshake with member %s failed: %w", nodeID, err)
		}

		dialed = append(dialed, dialedMember{nodeID: nodeID, conn: conn, session: sess})
	}

	channels := make([]group.MemberChannel, len(dialed))
	for i, d := range dialed {
		channels[i] = group.MemberChannel{NodeID: d.nodeID, Session: d.session}
	}

	secret, salt, results, err := group.Distribute(context.Background(), channels)
	if err != nil {
		return fmt.Errorf("group distribution failed: %w", err)
	}
	defer keyschedule.WipeSecret(secret)
	for _, r := range results {
		fmt.Printf("member %s: distributed ok\n", r.NodeID)
	}

	groupKeys, err := keyschedule.DeriveGroup(secret, salt)
	if err != nil {
		return fmt.Errorf("failed to derive group keys: %w", err)
	}

	g, _ := errgroup.WithContext(context.Background())
	for _, d := range dialed {
		d := d
		g.Go(func() error {
			producer := demo.NewTickerProducer(gleadAUInterval, gleadAUSize, gleadAUCount)
			consumer := demo.NewLoggingConsumer(os.Stdout, gleadVerbose)
			groupCfg := buildGroupSessionConfig(gleadMechanism, false, session.RoleLeader)

			groupSess := session.New("group-"+d.nodeID, session.RoleLeader, session.MechanismGroup, d.conn, handshake.NewPreshared(groupKeys), true, producer, consumer, groupCfg, nil)
			err := groupSess.Run(context.Background())
			fmt.Printf("group stream to %s ended: state=%s received=%d err=%v\n", d.nodeID, groupSess.State(), consumer.Count(), err)
			return err
		})
	}
	return g.Wait()
}
