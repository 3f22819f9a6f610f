/*
 * MailTriage - Copyright (C) 2022 Zane van Iperen.
 *    Contact: zane@zanevaniperen.com
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 2, and only
 * version 2 as published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program; if not, write to the Free Software
 * Foundation, Inc., 59 Temple Place, Suite 330, Boston, MA  02111-1307  USA
 */

package config

import (
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watch calls fn with a freshly loaded configuration every time the file
// at path is written. Invalid files are reported through err and the
// previous configuration stays in effect.
func Watch(path string, fn func(cfg *Config, err error)) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		log.WithError(err).WithField("path", path).Warn("config_watch_initial_read_failed")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		log.WithFields(log.Fields{"path": e.Name, "op": e.Op.String()}).Info("config_changed")
		fn(decode(v))
	})
	v.WatchConfig()
}
