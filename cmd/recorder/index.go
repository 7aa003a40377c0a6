package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/remeh/sizedwaitgroup"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	recorder "github.com/warcrec/recorder"
)

func index(cmd *cobra.Command, files []string) {
	threads, err := strconv.Atoi(cmd.Flags().Lookup("threads").Value.String())
	if err != nil {
		logrus.Fatalf("failed to parse threads: %s", err.Error())
	}

	var idx recorder.Index
	if redisURL := cmd.Flags().Lookup("redis").Value.String(); redisURL != "" {
		idx, err = recorder.NewRedisIndex(redisURL, "", "")
		if err != nil {
			logrus.Fatalf("failed to connect to redis: %s", err.Error())
		}
		defer idx.Close()
	}
	scope := recorder.IndexScope{
		User: cmd.Flags().Lookup("user").Value.String(),
		Coll: cmd.Flags().Lookup("coll").Value.String(),
	}

	swg := sizedwaitgroup.New(threads)

	for _, path := range files {
		swg.Add()
		go func(path string) {
			defer swg.Done()
			startTime := time.Now()

			rows, err := recorder.IndexWARCFile(path, "")
			if err != nil {
				logrus.Errorf("failed to index %s: %s", path, err.Error())
				return
			}

			for _, row := range rows {
				if idx != nil {
					if err := idx.Insert(context.Background(), scope, row); err != nil {
						logrus.Errorf("failed to insert row for %s: %s", path, err.Error())
						return
					}
					continue
				}
				line, err := row.MarshalCDXJ()
				if err != nil {
					logrus.Errorf("failed to marshal row for %s: %s", path, err.Error())
					return
				}
				fmt.Println(string(line))
			}

			logrus.Infof("finished indexing %s (%d rows) in %s", path, len(rows), time.Since(startTime))
		}(path)
	}

	swg.Wait()
}
