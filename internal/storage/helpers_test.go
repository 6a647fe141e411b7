package storage

import logx "relaybot/pkg/logx"

func nilLogger() logx.Logger { return logx.Nop() }
