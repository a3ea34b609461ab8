package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	hekate "github.com/hekate-project/hekate/cluster"
	"github.com/hekate-project/hekate/internal/seed"
)

var (
	clusterName string
	nodeName    string
	host        string
	port        int
	roles       []string
	seeds       []string
	lockRegions []string
	adminAddr   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Join a cluster and run until terminated",
	Long: `run starts a node, joins the cluster named by --cluster using the
seed addresses given by --seed (or, with none, bootstraps a new
cluster as its first member), and blocks until SIGINT/SIGTERM.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&clusterName, "cluster", "c", "", "cluster name (required)")
	runCmd.Flags().StringVarP(&nodeName, "name", "n", "", "node name (required)")
	runCmd.Flags().StringVar(&host, "host", "0.0.0.0", "address to bind the gossip and messaging connectors to")
	runCmd.Flags().IntVarP(&port, "port", "p", 7000, "gossip connector port (messaging binds port+1)")
	runCmd.Flags().StringSliceVarP(&roles, "role", "r", nil, "node role (repeatable)")
	runCmd.Flags().StringSliceVarP(&seeds, "seed", "s", nil, "seed node address (repeatable, gossip port); omit to bootstrap a new cluster")
	runCmd.Flags().StringSliceVar(&lockRegions, "lock-region", nil, "lock region to host on this node (repeatable)")
	runCmd.Flags().StringVar(&adminAddr, "admin-addr", "", "address for the admin service; empty disables it")

	runCmd.MarkFlagRequired("cluster")
	runCmd.MarkFlagRequired("name")
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := zerolog.New(zerolog.NewConsoleWriter()).Level(zerolog.InfoLevel).With().Timestamp().Logger()

	cfg := hekate.DefaultConfig()
	cfg.ClusterName = clusterName
	cfg.Node = hekate.NodeIdentity{Name: nodeName, Roles: roles}
	cfg.Network.Host = host
	cfg.Network.Port = port
	cfg.Cluster.SeedNodeProvider = seed.NewStaticProvider(seeds...)
	cfg.Locks.Regions = lockRegions
	cfg.AdminListenAddr = adminAddr

	node, err := hekate.New(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := node.Initialize(ctx); err != nil {
		return err
	}

	if err := node.Join(ctx); err != nil {
		logger.Error().Err(err).Msg("join failed")
		if termErr := node.Terminate(ctx); termErr != nil {
			logger.Error().Err(termErr).Msg("terminate after failed join also failed")
		}
		return err
	}
	logger.Info().Str("cluster", clusterName).Str("node", nodeName).Msg("joined cluster")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("leaving cluster")
	leaveCtx, cancelLeave := context.WithTimeout(context.Background(), 30*time.Second)
	if err := node.Leave(leaveCtx); err != nil {
		log.Printf("leave failed: %v", err)
	}
	cancelLeave()

	termCtx, cancelTerm := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTerm()
	return node.Terminate(termCtx)
}
