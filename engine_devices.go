package authcore

import "context"

// TrustedDevices lists the account's live trust entries, oldest first.
func (e *Engine) TrustedDevices(ctx context.Context, accountID string) ([]TrustedDevice, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	devices, err := e.devices.List(ctx, accountID, e.now())
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return toTrustedDevices(devices), nil
}

// RemoveTrustedDevice revokes one trust entry. The device faces the full 2FA
// challenge on its next login.
func (e *Engine) RemoveTrustedDevice(ctx context.Context, accountID, deviceID string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}

	existed, err := e.devices.Remove(ctx, accountID, deviceID)
	if err != nil {
		return false, wrapStoreErr(err)
	}
	if existed {
		e.emitAudit(ctx, AuditEvent{
			EventType: AuditTrustedDeviceRemoved,
			AccountID: accountID,
			DeviceID:  deviceID,
			Success:   true,
		})
	}
	return existed, nil
}

// SweepTrustedDevices prunes expired trust entries across all accounts.
// Run it periodically from a maintenance job.
func (e *Engine) SweepTrustedDevices(ctx context.Context) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.devices.Sweep(ctx, e.now())
	return n, wrapStoreErr(err)
}
