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


package check

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/vs49688/mailtriage/config"
)

func TestSelectAccounts(t *testing.T) {
	conf := &appconfig.Config{Accounts: []*appconfig.Account{{Name: "a"}, {Name: "b"}}}

	all, err := selectAccounts(conf, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	some, err := selectAccounts(conf, []string{"b"})
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, "b", some[0].Name)

	_, err = selectAccounts(conf, []string{"c"})
	assert.Error(t, err)
}
