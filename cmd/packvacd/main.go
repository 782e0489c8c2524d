// Command packvacd is a background daemon that periodically opens a
// pack store and runs a vacuum pass against it on a cron schedule.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	pack "github.com/blockpack/pack"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

func main() {
	path := flag.String("store", "", "path to the pack store file to vacuum")
	schedule := flag.String("schedule", "@every 5m", "cron schedule for the vacuum pass")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "packvacd: -store is required")
		os.Exit(2)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	p, err := pack.Open(*path)
	if err != nil {
		log.WithError(err).Fatal("failed to open store")
	}
	defer p.Close()

	c := cron.New()
	_, err = c.AddFunc(*schedule, func() {
		result, err := p.Vacuum()
		if err != nil {
			log.WithError(err).Error("vacuum pass failed")
			return
		}
		log.WithFields(logrus.Fields{
			"considered": result.PagesConsidered,
			"merged":     result.PagesMerged,
			"reclaimed":  result.PagesReclaimed,
		}).Info("vacuum pass complete")
	})
	if err != nil {
		log.WithError(err).Fatal("bad cron schedule")
	}

	c.Start()
	log.WithField("schedule", *schedule).Info("packvacd started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx := c.Stop()
	<-ctx.Done()
	log.Info("packvacd stopped")
}
