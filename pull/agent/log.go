package agent

import "github.com/sirupsen/logrus"

var log = logrus.WithField("prefix", "pull-agent")
